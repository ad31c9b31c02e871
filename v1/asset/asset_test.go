package asset

import (
	"errors"
	"testing"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
	"github.com/mirkobrombin/go-chainlock/v1/network"
)

func TestDefaultAssetsResolveToKnownChains(t *testing.T) {
	r := Default()
	for _, s := range r.Symbols() {
		a, err := r.Lookup(s)
		if err != nil {
			t.Fatalf("lookup %s: %v", s, err)
		}
		if _, ok := network.ChainNetworks[a.Chain]; !ok {
			t.Fatalf("%s maps to unknown chain %q", s, a.Chain)
		}
		if a.MatchingAsset != "" {
			if _, err := r.Lookup(a.MatchingAsset); err != nil {
				t.Fatalf("%s matching asset: %v", s, err)
			}
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default().Lookup("DOGE")
	if !errors.Is(err, chainerrors.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestBTCIsBitcoin(t *testing.T) {
	a, err := Default().Lookup("BTC")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if a.Chain != network.Bitcoin {
		t.Fatalf("expected bitcoin, got %s", a.Chain)
	}
}

func TestDefaultTokens(t *testing.T) {
	r := Default()
	cases := map[string]struct {
		chain    network.Chain
		matching string
	}{
		"FISH":    {chain: network.Polygon},
		"ARBUSDC": {chain: network.Arbitrum, matching: "USDC"},
		"PWETH":   {chain: network.Polygon, matching: "ETH"},
	}
	for sym, want := range cases {
		a, err := r.Lookup(sym)
		if err != nil {
			t.Fatalf("lookup %s: %v", sym, err)
		}
		if a.Chain != want.chain || a.MatchingAsset != want.matching || a.Type != ERC20 {
			t.Fatalf("%s: unexpected %+v", sym, a)
		}
		if a.CoinGeckoID == "" && a.MatchingAsset == "" {
			t.Fatalf("%s has no price source", sym)
		}
	}
}
