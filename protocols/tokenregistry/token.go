package tokenregistry

import "github.com/ethereum/go-ethereum/common"

// Token is the ERC-20 display metadata attached to a snapshot.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Label returns the symbol, falling back to the hex address for tokens
// that do not expose one.
func (t Token) Label() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}
