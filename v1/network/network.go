// Package network holds the static tables describing which deployment
// networks exist and which parameters each chain family uses on them.
package network

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
)

// Network is a deployment environment.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Networks lists every supported network.
var Networks = []Network{Mainnet, Testnet}

// ParseNetwork converts s into a Network.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case Mainnet:
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	}
	return "", fmt.Errorf("%w: %q", chainerrors.ErrUnknownNetwork, s)
}

// Chain identifies the blockchain family an asset lives on.
type Chain string

const (
	Bitcoin  Chain = "bitcoin"
	Ethereum Chain = "ethereum"
	RSK      Chain = "rsk"
	BSC      Chain = "bsc"
	Polygon  Chain = "polygon"
	Arbitrum Chain = "arbitrum"
	Near     Chain = "near"
)

// Params describes a chain on a specific network.
type Params struct {
	Name        string
	Chain       Chain
	Network     Network
	CoinType    uint32
	ChainID     *big.Int // EVM chains only
	RPCURL      string
	ExplorerURL string
	IsTestnet   bool

	// Bitcoin is set for the bitcoin chain only.
	Bitcoin *chaincfg.Params
}

// EVM reports whether the chain speaks the Ethereum JSON-RPC dialect.
func (p Params) EVM() bool {
	return p.ChainID != nil
}

func evm(name string, chain Chain, net Network, id int64, coinType uint32, rpc, explorer string) Params {
	return Params{
		Name:        name,
		Chain:       chain,
		Network:     net,
		CoinType:    coinType,
		ChainID:     big.NewInt(id),
		RPCURL:      rpc,
		ExplorerURL: explorer,
		IsTestnet:   net == Testnet,
	}
}

// ChainNetworks maps every chain to its parameters on each network.
var ChainNetworks = map[Chain]map[Network]Params{
	Bitcoin: {
		Testnet: {
			Name:        "bitcoin_testnet",
			Chain:       Bitcoin,
			Network:     Testnet,
			CoinType:    1,
			RPCURL:      "https://blockstream.info/testnet/api",
			ExplorerURL: "https://blockstream.info/testnet",
			IsTestnet:   true,
			Bitcoin:     &chaincfg.TestNet3Params,
		},
		Mainnet: {
			Name:        "bitcoin",
			Chain:       Bitcoin,
			Network:     Mainnet,
			CoinType:    0,
			RPCURL:      "https://blockstream.info/api",
			ExplorerURL: "https://blockstream.info",
			Bitcoin:     &chaincfg.MainNetParams,
		},
	},
	Ethereum: {
		Testnet: evm("ropsten", Ethereum, Testnet, 3, 60, "https://ropsten.infura.io/v3", "https://ropsten.etherscan.io"),
		Mainnet: evm("ethereum_mainnet", Ethereum, Mainnet, 1, 60, "https://cloudflare-eth.com", "https://etherscan.io"),
	},
	RSK: {
		Testnet: evm("rsk_testnet", RSK, Testnet, 31, 37310, "https://public-node.testnet.rsk.co", "https://explorer.testnet.rsk.co"),
		Mainnet: evm("rsk_mainnet", RSK, Mainnet, 30, 137, "https://public-node.rsk.co", "https://explorer.rsk.co"),
	},
	BSC: {
		Testnet: evm("bsc_testnet", BSC, Testnet, 97, 60, "https://data-seed-prebsc-1-s1.binance.org:8545", "https://testnet.bscscan.com"),
		Mainnet: evm("bsc_mainnet", BSC, Mainnet, 56, 60, "https://bsc-dataseed.binance.org", "https://bscscan.com"),
	},
	Polygon: {
		Testnet: evm("polygon_testnet", Polygon, Testnet, 80001, 60, "https://rpc-mumbai.maticvigil.com", "https://mumbai.polygonscan.com"),
		Mainnet: evm("polygon_mainnet", Polygon, Mainnet, 137, 60, "https://polygon-rpc.com", "https://polygonscan.com"),
	},
	Arbitrum: {
		Testnet: evm("arbitrum_testnet", Arbitrum, Testnet, 421611, 60, "https://rinkeby.arbitrum.io/rpc", "https://testnet.arbiscan.io"),
		Mainnet: evm("arbitrum_mainnet", Arbitrum, Mainnet, 42161, 60, "https://arb1.arbitrum.io/rpc", "https://arbiscan.io"),
	},
	Near: {
		Testnet: {
			Name:        "near_testnet",
			Chain:       Near,
			Network:     Testnet,
			CoinType:    397,
			RPCURL:      "https://rpc.testnet.near.org",
			ExplorerURL: "https://explorer.testnet.near.org",
			IsTestnet:   true,
		},
		Mainnet: {
			Name:        "near_mainnet",
			Chain:       Near,
			Network:     Mainnet,
			CoinType:    397,
			RPCURL:      "https://rpc.mainnet.near.org",
			ExplorerURL: "https://explorer.near.org",
		},
	},
}

// Lookup returns the parameters of chain on net.
func Lookup(chain Chain, net Network) (Params, error) {
	nets, ok := ChainNetworks[chain]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", chainerrors.ErrUnknownChain, chain)
	}
	p, ok := nets[net]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", chainerrors.ErrUnknownNetwork, net)
	}
	return p, nil
}

// Chains returns the known chains in lexical order.
func Chains() []Chain {
	out := make([]Chain, 0, len(ChainNetworks))
	for c := range ChainNetworks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
