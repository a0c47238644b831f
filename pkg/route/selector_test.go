package route_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tessara-labs/payguard/pkg/route"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSelect_FastWhenBothChainsSupported(t *testing.T) {
	s := route.DefaultSelector()

	r := s.Select("ethereum", "base", dec("1000"))
	assert.Equal(t, route.KindFast, r.Kind)
	assert.True(t, r.Fee.Equal(dec("1")), "0.1%% of 1000, got %s", r.Fee)
	assert.Equal(t, 20*time.Second, r.ETA)
	assert.Equal(t, "ethereum", r.SourceChain)
	assert.Equal(t, "base", r.DestChain)
}

func TestSelect_BridgeWhenEitherChainUnsupported(t *testing.T) {
	s := route.DefaultSelector()

	r := s.Select("ethereum", "solana", dec("1000"))
	assert.Equal(t, route.KindBridge, r.Kind)
	assert.True(t, r.Fee.Equal(dec("2")), "0.2%% of 1000, got %s", r.Fee)
	assert.Equal(t, 15*time.Minute, r.ETA)

	r = s.Select("solana", "base", dec("1000"))
	assert.Equal(t, route.KindBridge, r.Kind)

	r = s.Select("", "", dec("10"))
	assert.Equal(t, route.KindBridge, r.Kind)
}

func TestSelect_CustomChainSet(t *testing.T) {
	s := route.NewSelector([]string{"chain-a", "chain-b"})

	assert.Equal(t, route.KindFast, s.Select("chain-a", "chain-b", dec("5")).Kind)
	assert.Equal(t, route.KindBridge, s.Select("chain-a", "ethereum", dec("5")).Kind)
}

func TestSelect_FeeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	s := route.DefaultSelector()
	chains := []string{"ethereum", "base", "arbitrum", "optimism", "polygon", "solana", "tron"}

	properties.Property("bridge fee is exactly double the fast fee", prop.ForAll(
		func(cents int64) bool {
			amount := decimal.New(cents, -2)
			fast := s.Select("ethereum", "base", amount)
			bridge := s.Select("ethereum", "solana", amount)
			return bridge.Fee.Equal(fast.Fee.Mul(decimal.NewFromInt(2)))
		},
		gen.Int64Range(1, 1_000_000_000),
	))

	properties.Property("fee never exceeds 0.2% of the amount", prop.ForAll(
		func(cents int64, srcIdx, dstIdx int) bool {
			amount := decimal.New(cents, -2)
			r := s.Select(chains[srcIdx], chains[dstIdx], amount)
			ceiling := amount.Mul(dec("0.002"))
			return r.Fee.LessThanOrEqual(ceiling) && r.Fee.IsPositive()
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.IntRange(0, len(chains)-1),
		gen.IntRange(0, len(chains)-1),
	))

	properties.Property("route kind depends only on the chain pair", prop.ForAll(
		func(cents int64, srcIdx, dstIdx int) bool {
			small := s.Select(chains[srcIdx], chains[dstIdx], dec("0.01"))
			large := s.Select(chains[srcIdx], chains[dstIdx], decimal.New(cents, -2))
			return small.Kind == large.Kind
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.IntRange(0, len(chains)-1),
		gen.IntRange(0, len(chains)-1),
	))

	properties.TestingRun(t)
}
