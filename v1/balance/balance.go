// Package balance reads on-chain balances for wallet accounts.
package balance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mirkobrombin/go-chainlock/v1/network"
)

// Account is one wallet account on a chain.
type Account struct {
	Chain     network.Chain
	Addresses []string
}

// Accounts groups accounts by wallet id and network.
type Accounts map[string]map[network.Network][]Account

// Reader reads the native balance of an address. *ethclient.Client
// satisfies it.
type Reader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DialRSK connects to the public RSK mainnet node.
func DialRSK(ctx context.Context) (*ethclient.Client, error) {
	p, err := network.Lookup(network.RSK, network.Mainnet)
	if err != nil {
		return nil, err
	}
	return ethclient.DialContext(ctx, p.RPCURL)
}

// Addresses returns every address of accounts on chain in net, in wallet
// iteration order. Duplicates are kept.
func Addresses(accounts Accounts, net network.Network, chain network.Chain) []string {
	var out []string
	for _, byNet := range accounts {
		for _, acc := range byNet[net] {
			if acc.Chain == chain {
				out = append(out, acc.Addresses...)
			}
		}
	}
	return out
}

// LegacyRSK sums the latest balances of every mainnet RSK address across all
// wallets.
func LegacyRSK(ctx context.Context, r Reader, accounts Accounts) (*big.Int, error) {
	total := new(big.Int)
	for _, addr := range Addresses(accounts, network.Mainnet, network.RSK) {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("balance: invalid rsk address %q", addr)
		}
		b, err := r.BalanceAt(ctx, common.HexToAddress(addr), nil)
		if err != nil {
			return nil, fmt.Errorf("balance: %s: %w", addr, err)
		}
		total.Add(total, b)
	}
	return total, nil
}
