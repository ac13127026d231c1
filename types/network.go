package types

import "fmt"

// Network identifies one of the supported Sei networks.
type Network string

const (
	NetworkSei        Network = "sei"
	NetworkSeiTestnet Network = "sei-testnet"
)

// NetworkConfig binds a network identifier to its chain id, stablecoin
// contract and default RPC endpoint. The network/asset pair is fixed per
// deployment and never mixed across testnet and mainnet.
type NetworkConfig struct {
	Network       Network
	ChainID       int64
	AssetAddress  string
	AssetName     string
	AssetVersion  string // EIP-712 domain version of the asset contract
	AssetDecimals int
	RPCURL        string
}

var networkConfigs = map[Network]NetworkConfig{
	NetworkSei: {
		Network:       NetworkSei,
		ChainID:       1329,
		AssetAddress:  "0xe15fC38F6D8c56aF07bbCBe3BAf5708A2Bf42392",
		AssetName:     "USDC",
		AssetVersion:  "2",
		AssetDecimals: 6,
		RPCURL:        "https://evm-rpc.sei-apis.com",
	},
	NetworkSeiTestnet: {
		Network:       NetworkSeiTestnet,
		ChainID:       1328,
		AssetAddress:  "0x4fCF1784B31630811181f670Aea7A7bEF803eaED",
		AssetName:     "USDC",
		AssetVersion:  "2",
		AssetDecimals: 6,
		RPCURL:        "https://evm-rpc-testnet.sei-apis.com",
	},
}

// ConfigForNetwork returns the built-in configuration for a network.
func ConfigForNetwork(n Network) (NetworkConfig, error) {
	cfg, ok := networkConfigs[n]
	if !ok {
		return NetworkConfig{}, &S402Error{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("unsupported network: %s", n),
		}
	}
	return cfg, nil
}

// SupportedNetworks lists the networks the server can be configured for.
func SupportedNetworks() []Network {
	return []Network{NetworkSeiTestnet, NetworkSei}
}

func (n Network) IsValid() bool {
	_, ok := networkConfigs[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return n == NetworkSeiTestnet
}

func (n Network) String() string {
	return string(n)
}
