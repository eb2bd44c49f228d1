package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/gustavo/lendctl/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Network identifies an EVM chain that carries an Aave V3 deployment.
type Network struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

var networkBySlug = map[string]Network{
	"ethereum":     {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"mainnet":      {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"optimism":     {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10},
	"polygon":      {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137},
	"base":         {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"base-mainnet": {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"base-sepolia": {Name: "Base Sepolia", Slug: "base-sepolia", CAIP2: "eip155:84532", EVMChainID: 84532},
	"arbitrum":     {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161},
	"avalanche":    {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114},
}

var networkByID = map[int64]Network{
	1:     networkBySlug["ethereum"],
	10:    networkBySlug["optimism"],
	137:   networkBySlug["polygon"],
	8453:  networkBySlug["base"],
	84532: networkBySlug["base-sepolia"],
	42161: networkBySlug["arbitrum"],
	43114: networkBySlug["avalanche"],
}

// ParseNetwork accepts a slug ("base"), a CAIP-2 identifier
// ("eip155:8453"), or a bare numeric chain id. Unknown chains are a
// lookup failure, never a silent default.
func ParseNetwork(input string) (Network, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Network{}, clierr.New(clierr.CodeUsage, "network is required")
	}
	norm := strings.ToLower(raw)

	if network, ok := networkBySlug[norm]; ok {
		return network, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		parts := strings.Split(norm, ":")
		chainID, _ := strconv.ParseInt(parts[1], 10, 64)
		if known, ok := networkByID[chainID]; ok {
			return known, nil
		}
		return Network{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("network %s has no known Aave deployment", input))
	}

	if chainID, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if known, ok := networkByID[chainID]; ok {
			return known, nil
		}
		return Network{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain id %d has no known Aave deployment", chainID))
	}

	return Network{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported network input: %s", input))
}

// IsEVMAddress reports whether the input looks like a 20-byte hex address.
func IsEVMAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}
