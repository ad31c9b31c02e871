package network

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
)

func TestParseNetwork(t *testing.T) {
	if n, err := ParseNetwork(" MainNet "); err != nil || n != Mainnet {
		t.Fatalf("expected mainnet, got %q err %v", n, err)
	}
	if n, err := ParseNetwork("testnet"); err != nil || n != Testnet {
		t.Fatalf("expected testnet, got %q err %v", n, err)
	}
	if _, err := ParseNetwork("regtest"); !errors.Is(err, chainerrors.ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}

func TestEveryChainHasBothNetworks(t *testing.T) {
	for _, c := range Chains() {
		for _, n := range Networks {
			p, err := Lookup(c, n)
			if err != nil {
				t.Fatalf("lookup %s/%s: %v", c, n, err)
			}
			if p.Chain != c || p.Network != n {
				t.Fatalf("params mismatch for %s/%s: %+v", c, n, p)
			}
			if p.IsTestnet != (n == Testnet) {
				t.Fatalf("testnet flag wrong for %s/%s", c, n)
			}
		}
	}
}

func TestBitcoinParams(t *testing.T) {
	p, err := Lookup(Bitcoin, Mainnet)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Bitcoin != &chaincfg.MainNetParams {
		t.Fatal("expected btcd mainnet params")
	}
	if p.EVM() {
		t.Fatal("bitcoin is not an EVM chain")
	}
	p, _ = Lookup(Bitcoin, Testnet)
	if p.Bitcoin.Name != chaincfg.TestNet3Params.Name {
		t.Fatalf("expected testnet3 params, got %s", p.Bitcoin.Name)
	}
}

func TestEVMChainIDs(t *testing.T) {
	cases := map[Chain]int64{Ethereum: 1, RSK: 30, BSC: 56, Polygon: 137, Arbitrum: 42161}
	for c, id := range cases {
		p, err := Lookup(c, Mainnet)
		if err != nil {
			t.Fatalf("lookup %s: %v", c, err)
		}
		if !p.EVM() || p.ChainID.Int64() != id {
			t.Fatalf("%s: expected chain id %d, got %v", c, id, p.ChainID)
		}
	}
}

func TestLookupUnknownChain(t *testing.T) {
	if _, err := Lookup("dogecoin", Mainnet); !errors.Is(err, chainerrors.ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
	if _, err := Lookup(Near, "devnet"); !errors.Is(err, chainerrors.ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}
