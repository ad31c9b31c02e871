package lock

import (
	"fmt"
	"strings"

	"github.com/mirkobrombin/go-chainlock/v1/network"
)

// Key scopes a chain lock to one wallet on one chain of one network.
type Key struct {
	Network  network.Network
	WalletID string
	Chain    network.Chain
}

// String joins the key parts with "-", e.g. "mainnet-wallet1-bitcoin".
func (k Key) String() string {
	return string(k.Network) + "-" + k.WalletID + "-" + string(k.Chain)
}

// ParseKey splits s back into a Key. The wallet id may itself contain "-".
func ParseKey(s string) (Key, error) {
	first := strings.Index(s, "-")
	last := strings.LastIndex(s, "-")
	if first <= 0 || last == first || last == len(s)-1 {
		return Key{}, fmt.Errorf("lock: malformed key %q", s)
	}
	return Key{
		Network:  network.Network(s[:first]),
		WalletID: s[first+1 : last],
		Chain:    network.Chain(s[last+1:]),
	}, nil
}

// Result reports the outcome of an acquisition attempt.
type Result struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
}

// ReleaseTopic is the bus topic on which releases of key are announced.
func ReleaseTopic(key string) string {
	return "unlock:" + key
}
