package id

import "testing"

func TestParseNetworkSlug(t *testing.T) {
	network, err := ParseNetwork("base")
	if err != nil {
		t.Fatalf("ParseNetwork failed: %v", err)
	}
	if network.EVMChainID != 8453 || network.CAIP2 != "eip155:8453" {
		t.Fatalf("unexpected network: %+v", network)
	}

	alias, err := ParseNetwork("base-mainnet")
	if err != nil {
		t.Fatalf("ParseNetwork failed: %v", err)
	}
	if alias.Slug != network.Slug {
		t.Fatalf("expected base-mainnet alias to resolve to base, got %+v", alias)
	}
}

func TestParseNetworkCAIP2AndNumeric(t *testing.T) {
	network, err := ParseNetwork("eip155:84532")
	if err != nil {
		t.Fatalf("ParseNetwork failed: %v", err)
	}
	if network.Slug != "base-sepolia" {
		t.Fatalf("unexpected network: %+v", network)
	}

	network, err = ParseNetwork("1")
	if err != nil {
		t.Fatalf("ParseNetwork failed: %v", err)
	}
	if network.Slug != "ethereum" {
		t.Fatalf("unexpected network: %+v", network)
	}
}

func TestParseNetworkRejectsUnknownChains(t *testing.T) {
	for _, input := range []string{"", "solana", "eip155:999999", "999999"} {
		if _, err := ParseNetwork(input); err == nil {
			t.Fatalf("expected ParseNetwork(%q) to fail", input)
		}
	}
}
