// Package payments covers the settlement side of the protocol: the USDC
// wallet, the buyer-to-seller transfer, and the on-chain proof verifier.
package payments

import (
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// USDCDecimals is the token's raw-unit scaling.
const USDCDecimals = 6

// NetworkConfig is one supported settlement network. The table is read-only
// after init.
type NetworkConfig struct {
	ChainID     int64
	Name        string
	RPCURL      string
	ExplorerURL string
	USDCAddress string
}

var networks = map[string]NetworkConfig{
	"base": {
		ChainID:     8453,
		Name:        "Base Mainnet",
		RPCURL:      "https://mainnet.base.org",
		ExplorerURL: "https://basescan.org",
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	},
	"base-sepolia": {
		ChainID:     84532,
		Name:        "Base Sepolia (Testnet)",
		RPCURL:      "https://sepolia.base.org",
		ExplorerURL: "https://sepolia.basescan.org",
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	},
	"sepolia": {
		ChainID:     11155111,
		Name:        "Ethereum Sepolia (Testnet)",
		RPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
		ExplorerURL: "https://sepolia.etherscan.io",
		USDCAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	},
}

// Network resolves a network by identifier.
func Network(name string) (NetworkConfig, bool) {
	cfg, ok := networks[name]
	return cfg, ok
}

// DefaultNetwork returns the APEX_NETWORK selection, defaulting to the Base
// testnet.
func DefaultNetwork() string {
	if n := os.Getenv("APEX_NETWORK"); n != "" {
		return n
	}
	return "base-sepolia"
}

// ExplorerTxURL builds the block-explorer link for a transaction.
func ExplorerTxURL(network, txHash string) string {
	cfg, ok := networks[network]
	if !ok {
		return ""
	}
	return cfg.ExplorerURL + "/tx/" + txHash
}

const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// erc20ABI is the minimal token interface the wallet and verifier need.
var erc20ABI = mustABI(erc20ABIJSON)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
