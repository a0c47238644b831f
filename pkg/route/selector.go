// Package route selects a cross-chain settlement route for an intent. The
// selection is stateless: fast native-protocol transfer when both chains
// support it, otherwise a generic bridge.
package route

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the route class.
type Kind string

const (
	KindFast   Kind = "fast"
	KindBridge Kind = "bridge"
)

// Route is a priced settlement path.
type Route struct {
	Kind        Kind            `json:"kind"`
	SourceChain string          `json:"source_chain"`
	DestChain   string          `json:"dest_chain"`
	Fee         decimal.Decimal `json:"fee"`
	ETA         time.Duration   `json:"eta"`
}

// Fee fractions and fixed ETAs per route class.
var (
	fastFeeRate   = decimal.NewFromFloat(0.001) // 0.1%
	bridgeFeeRate = decimal.NewFromFloat(0.002) // 0.2%

	fastETA   = 20 * time.Second
	bridgeETA = 15 * time.Minute
)

// Selector picks routes given the set of chains the fast protocol supports.
type Selector struct {
	fastChains map[string]bool
}

// NewSelector creates a selector for the given fast-protocol chain set.
func NewSelector(fastChains []string) *Selector {
	set := make(map[string]bool, len(fastChains))
	for _, c := range fastChains {
		set[c] = true
	}
	return &Selector{fastChains: set}
}

// DefaultSelector covers the chains the fast protocol natively supports.
func DefaultSelector() *Selector {
	return NewSelector([]string{"ethereum", "base", "arbitrum", "optimism", "polygon"})
}

// Select picks the route for a transfer. Both chains in the fast set selects
// the fast route; anything else falls back to the generic bridge.
func (s *Selector) Select(sourceChain, destChain string, amount decimal.Decimal) Route {
	if s.fastChains[sourceChain] && s.fastChains[destChain] {
		return Route{
			Kind:        KindFast,
			SourceChain: sourceChain,
			DestChain:   destChain,
			Fee:         amount.Mul(fastFeeRate),
			ETA:         fastETA,
		}
	}
	return Route{
		Kind:        KindBridge,
		SourceChain: sourceChain,
		DestChain:   destChain,
		Fee:         amount.Mul(bridgeFeeRate),
		ETA:         bridgeETA,
	}
}
