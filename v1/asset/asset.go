// Package asset provides the metadata lookup that maps asset symbols to the
// chain they live on and to their price index identifiers.
package asset

import (
	"fmt"
	"sort"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
	"github.com/mirkobrombin/go-chainlock/v1/network"
)

// Type distinguishes native coins from tokens.
type Type string

const (
	Native Type = "native"
	ERC20  Type = "erc20"
)

// Asset describes a tradable asset known to the wallet.
type Asset struct {
	Symbol          string
	Name            string
	Chain           network.Chain
	Type            Type
	Decimals        int
	CoinGeckoID     string
	MatchingAsset   string
	ContractAddress string
}

// Resolver looks up asset metadata by symbol.
type Resolver interface {
	Lookup(symbol string) (Asset, error)
}

// Registry is a map backed Resolver. It is immutable after construction.
type Registry struct {
	assets map[string]Asset
}

// NewRegistry returns a Registry holding assets. Later duplicates win.
func NewRegistry(assets ...Asset) *Registry {
	r := &Registry{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		r.assets[a.Symbol] = a
	}
	return r
}

// Lookup implements Resolver.Lookup.
func (r *Registry) Lookup(symbol string) (Asset, error) {
	a, ok := r.assets[symbol]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", chainerrors.ErrUnknownAsset, symbol)
	}
	return a, nil
}

// Symbols returns the registered symbols sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.assets))
	for s := range r.assets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry(
	Asset{Symbol: "BTC", Name: "Bitcoin", Chain: network.Bitcoin, Type: Native, Decimals: 8, CoinGeckoID: "bitcoin"},
	Asset{Symbol: "ETH", Name: "Ether", Chain: network.Ethereum, Type: Native, Decimals: 18, CoinGeckoID: "ethereum"},
	Asset{Symbol: "RBTC", Name: "Rootstock BTC", Chain: network.RSK, Type: Native, Decimals: 18, CoinGeckoID: "rootstock"},
	Asset{Symbol: "BNB", Name: "Binance Coin", Chain: network.BSC, Type: Native, Decimals: 18, CoinGeckoID: "binancecoin"},
	Asset{Symbol: "MATIC", Name: "Matic", Chain: network.Polygon, Type: Native, Decimals: 18, CoinGeckoID: "matic-network"},
	Asset{Symbol: "ARBETH", Name: "Arbitrum ETH", Chain: network.Arbitrum, Type: Native, Decimals: 18, MatchingAsset: "ETH"},
	Asset{Symbol: "NEAR", Name: "Near", Chain: network.Near, Type: Native, Decimals: 24, CoinGeckoID: "near"},
	Asset{Symbol: "DAI", Name: "Dai Stablecoin", Chain: network.Ethereum, Type: ERC20, Decimals: 18, CoinGeckoID: "dai",
		ContractAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F"},
	Asset{Symbol: "USDC", Name: "USD Coin", Chain: network.Ethereum, Type: ERC20, Decimals: 6, CoinGeckoID: "usd-coin",
		ContractAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	Asset{Symbol: "USDT", Name: "Tether USD", Chain: network.Ethereum, Type: ERC20, Decimals: 6, CoinGeckoID: "tether",
		ContractAddress: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
	Asset{Symbol: "SOV", Name: "Sovryn", Chain: network.RSK, Type: ERC20, Decimals: 18, CoinGeckoID: "sovryn",
		ContractAddress: "0xEFc78fc7d48b64958315949279Ba181c2114ABBd"},
	Asset{Symbol: "PWETH", Name: "Wrapped Ether (Polygon)", Chain: network.Polygon, Type: ERC20, Decimals: 18, MatchingAsset: "ETH",
		ContractAddress: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"},
	Asset{Symbol: "FISH", Name: "Polycat Finance", Chain: network.Polygon, Type: ERC20, Decimals: 18, CoinGeckoID: "polycat-finance",
		ContractAddress: "0x3a3Df212b7AA91Aa0402B9035b098891d276572B"},
	Asset{Symbol: "ARBUSDC", Name: "USD Coin (Arbitrum)", Chain: network.Arbitrum, Type: ERC20, Decimals: 6, MatchingAsset: "USDC",
		ContractAddress: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8"},
)

// Default returns the built-in asset table.
func Default() *Registry {
	return defaultRegistry
}
