package registry

import (
	"fmt"
	"strings"

	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/id"
)

// Canonical Aave V3 Pool contracts per chain.
var aavePoolByChainID = map[int64]string{
	1:     "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2", // Ethereum
	10:    "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Optimism
	137:   "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Polygon
	8453:  "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5", // Base
	84532: "0x6Ae43d3271ff6888e7Fc43Fd7321a503ff738951", // Base Sepolia
	42161: "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Arbitrum
	43114: "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Avalanche
}

// Underlying reserve assets the tool can name symbolically, per chain.
// Decimals are intentionally absent: precision is read from the token
// contract, never assumed.
var assetAddressByChainID = map[int64]map[string]string{
	1: {
		"weth":   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"usdc":   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"usdt":   "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"dai":    "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		"wsteth": "0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0",
	},
	10: {
		"weth": "0x4200000000000000000000000000000000000006",
		"usdc": "0x7F5c764cBc14f9669B88837ca1490cCa17c31607",
		"usdt": "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
		"dai":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	137: {
		"weth": "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
		"usdc": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"usdt": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		"dai":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	},
	8453: {
		"weth":   "0x4200000000000000000000000000000000000006",
		"usdc":   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"cbeth":  "0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22",
		"wsteth": "0xc1CBa3fCea344f92D9239c08C0568f6F2F0ee452",
	},
	84532: {
		"weth": "0x4200000000000000000000000000000000000006",
		"usdc": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	},
	42161: {
		"weth": "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		"usdc": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		"usdt": "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9",
		"dai":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	43114: {
		"weth": "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB",
		"usdc": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		"usdt": "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
		"dai":  "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70",
	},
}

// PoolAddress resolves the Aave V3 Pool contract for a network.
func PoolAddress(network id.Network) (string, error) {
	pool, ok := aavePoolByChainID[network.EVMChainID]
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("aave pool is not deployed on %s", network.Slug))
	}
	return pool, nil
}

// AssetAddress resolves a symbolic asset id ("weth", "usdc", ...) to its
// token contract on the given network. A raw token address passes
// through untouched.
func AssetAddress(network id.Network, assetID string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(assetID))
	if clean == "" {
		return "", clierr.New(clierr.CodeUsage, "asset is required")
	}
	if id.IsEVMAddress(clean) {
		return strings.TrimSpace(assetID), nil
	}
	assets, ok := assetAddressByChainID[network.EVMChainID]
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no asset registry for network %s", network.Slug))
	}
	addr, ok := assets[clean]
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("asset %s is not supported on %s", assetID, network.Slug))
	}
	return addr, nil
}

// SupportedAssets lists the symbolic asset ids known for a network.
func SupportedAssets(network id.Network) []string {
	assets := assetAddressByChainID[network.EVMChainID]
	out := make([]string, 0, len(assets))
	for symbol := range assets {
		out = append(out, symbol)
	}
	return out
}
