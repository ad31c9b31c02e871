// Package ledger holds the hardware wallet bridge configuration and a client
// for the bridge transport.
package ledger

// BridgeIframeName is the name of the frame hosting the bridge.
const BridgeIframeName = "HW-IFRAME"

// BridgeReplyPrefix prefixes the type of every bridge reply message.
const BridgeReplyPrefix = "reply"

// BitcoinOption is a bitcoin derivation offered by the ledger app.
type BitcoinOption struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	AddressType string `json:"addressType"`
}

// Option is a ledger account type offered for a chain.
type Option struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Chain string `json:"chain"`
}

// Ledger account types. The segwit spelling matches the bridge identifiers.
const (
	TypeEthereum      = "ethereum_ledger"
	TypeBitcoinSegwit = "bitcoin_ledger_nagive_segwit"
	TypeBitcoinLegacy = "bitcoin_ledger_legacy"
)

// BitcoinOptions lists the bitcoin derivations in display order.
var BitcoinOptions = []BitcoinOption{
	{Name: TypeBitcoinSegwit, Label: "Segwit", AddressType: "bech32"},
	{Name: TypeBitcoinLegacy, Label: "Legacy", AddressType: "legacy"},
}

// Options lists the supported ledger accounts in display order.
var Options = []Option{
	{Name: "ETH", Label: "ETH", Type: TypeEthereum, Chain: "ETH"},
	{Name: "BTC", Label: "BTC", Type: TypeBitcoinSegwit, Chain: "BTC"},
}

// OptionByChain returns the ledger option for the chain asset symbol.
func OptionByChain(chain string) (Option, bool) {
	for _, o := range Options {
		if o.Chain == chain {
			return o, true
		}
	}
	return Option{}, false
}

// ReplyType returns the message type of the reply to the call with id.
func ReplyType(id string) string {
	return BridgeReplyPrefix + ":" + id
}
