package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Source names which credential kind a LocalSigner may load from.
// SourceAuto tries them in precedence order: inline hex, key file,
// keystore.
const (
	SourceAuto     = "auto"
	SourceEnv      = "env"
	SourceFile     = "file"
	SourceKeystore = "keystore"
)

// Credentials carries key material locations as resolved by the
// configuration layer (defaults, config file, environment, flags).
// The signer itself never consults the environment.
type Credentials struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

// restrict masks out every credential the selected source does not
// permit, so an explicit --key-source cannot silently fall through to
// another kind of key.
func (c Credentials) restrict(source string) (Credentials, error) {
	switch source {
	case "", SourceAuto:
		return c, nil
	case SourceEnv:
		return Credentials{PrivateKeyHex: c.PrivateKeyHex}, nil
	case SourceFile:
		return Credentials{PrivateKeyFile: c.PrivateKeyFile}, nil
	case SourceKeystore:
		return Credentials{
			KeystorePath:         c.KeystorePath,
			KeystorePassword:     c.KeystorePassword,
			KeystorePasswordFile: c.KeystorePasswordFile,
		}, nil
	default:
		return Credentials{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)",
			source, SourceAuto, SourceEnv, SourceFile, SourceKeystore)
	}
}

func (c Credentials) load() (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(c.PrivateKeyHex) != "" {
		return parseHexKey(c.PrivateKeyHex)
	}
	if strings.TrimSpace(c.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	}
	if strings.TrimSpace(c.KeystorePath) != "" {
		return c.loadKeystore()
	}
	return nil, fmt.Errorf("missing signing key: provide a private key, a key file, or a keystore")
}

func (c Credentials) loadKeystore() (*ecdsa.PrivateKey, error) {
	password := strings.TrimSpace(c.KeystorePassword)
	if password == "" && strings.TrimSpace(c.KeystorePasswordFile) != "" {
		buf, err := os.ReadFile(c.KeystorePasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if password == "" {
		return nil, fmt.Errorf("keystore password is required")
	}
	buf, err := os.ReadFile(c.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocal builds a signer from resolved credentials, honoring the
// selected source.
func NewLocal(source string, creds Credentials) (*LocalSigner, error) {
	creds, err := creds.restrict(strings.ToLower(strings.TrimSpace(source)))
	if err != nil {
		return nil, err
	}
	pk, err := creds.load()
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}
