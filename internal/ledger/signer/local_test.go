package signer

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func TestNewLocalFromHex(t *testing.T) {
	s, err := NewLocal(SourceAuto, Credentials{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       ptrAddress(common.HexToAddress("0x0000000000000000000000000000000000000001")),
		Value:    big.NewInt(0),
		Gas:      21_000,
		GasPrice: big.NewInt(1),
	})
	if _, err := s.SignTx(common.Big1, tx); err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
}

func TestNewLocalFromKeyFile(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key.hex")
	if err := os.WriteFile(keyFile, []byte("0x"+testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	s, err := NewLocal(SourceFile, Credentials{PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestNewLocalSourceMasksOtherCredentials(t *testing.T) {
	_, err := NewLocal(SourceFile, Credentials{PrivateKeyHex: testPrivateKey})
	if err == nil {
		t.Fatal("source file must not fall back to the inline key")
	}
}

func TestNewLocalHexWinsUnderAuto(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key.hex")
	if err := os.WriteFile(keyFile, []byte("not-a-key"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	s, err := NewLocal(SourceAuto, Credentials{PrivateKeyHex: testPrivateKey, PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestNewLocalMissingKey(t *testing.T) {
	if _, err := NewLocal(SourceAuto, Credentials{}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestNewLocalUnknownSource(t *testing.T) {
	if _, err := NewLocal("vault", Credentials{PrivateKeyHex: testPrivateKey}); err == nil {
		t.Fatal("expected unsupported source error")
	}
}

func ptrAddress(a common.Address) *common.Address { return &a }
