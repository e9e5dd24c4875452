package options

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/internal/config"
	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
	"quantrisk/internal/pricing"
)

var asOf = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func newTestBuilder(opts ...Option) *Builder {
	cfg := config.Default()
	opts = append([]Option{WithClock(func() time.Time { return asOf })}, opts...)
	return NewBuilder(pricing.NewPricer(cfg.Pricing), cfg.Pricing, opts...)
}

func oneYear() time.Time { return asOf.Add(365 * 24 * time.Hour) }

type stubQuotes map[float64]Quote

func (s stubQuotes) Quote(_ string, typ models.OptionType, _ time.Time, strike float64) (Quote, bool) {
	if typ != models.OptionCall {
		return Quote{}, false
	}
	q, ok := s[strike]
	return q, ok
}

func TestBuildChain_GridAndSyntheticQuotes(t *testing.T) {
	b := newTestBuilder()
	exp1, exp2 := oneYear(), asOf.Add(30*24*time.Hour)

	chain, err := b.BuildChain(ChainRequest{
		Symbol:       "NIFTY",
		Spot:         100,
		Expiries:     []time.Time{exp1, exp2, exp1},
		Strikes:      []float64{110, 90, 100, 100},
		Volatility:   0.2,
		RiskFreeRate: 0.05,
	})
	require.NoError(t, err)

	require.Len(t, chain.Calls, 6)
	require.Len(t, chain.Puts, 6)
	assert.Equal(t, asOf, chain.UpdatedAt)

	seen := make(map[string]bool)
	for _, side := range [][]models.OptionContract{chain.Calls, chain.Puts} {
		for _, c := range side {
			key := fmt.Sprintf("%s/%s/%g", c.Type, c.Expiry, c.Strike)
			assert.False(t, seen[key], "duplicate contract %v", key)
			seen[key] = true

			assert.True(t, c.Synthetic)
			assert.InDelta(t, c.LTP*0.98, c.Bid, 1e-12)
			assert.InDelta(t, c.LTP*1.02, c.Ask, 1e-12)
			assert.GreaterOrEqual(t, c.TimeValue, 0.0)
			assert.Zero(t, c.Volume)
			assert.Zero(t, c.OI)
		}
	}

	// Expiries are ordered, the nearer one first.
	assert.Equal(t, exp2, chain.Calls[0].Expiry)

	call, ok := chain.Find(models.OptionCall, exp1, 90)
	require.True(t, ok)
	assert.True(t, call.InTheMoney)
	assert.InDelta(t, 10, call.IntrinsicValue, 1e-12)

	put, ok := chain.Find(models.OptionPut, exp1, 90)
	require.True(t, ok)
	assert.False(t, put.InTheMoney)
	assert.Zero(t, put.IntrinsicValue)

	atm, ok := chain.Find(models.OptionCall, exp1, 100)
	require.True(t, ok)
	assert.InDelta(t, 10.4506, atm.LTP, 1e-3)
}

func TestBuildChain_PrefersRealQuotes(t *testing.T) {
	params := models.PricingParams{
		Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.05, Volatility: 0.35, Type: models.OptionCall,
	}
	market := pricing.Price(params)

	b := newTestBuilder(WithQuoteSource(stubQuotes{
		100: {LTP: market, Bid: market - 0.1, Ask: market + 0.1, Volume: 1200, OI: 5400},
	}))

	chain, err := b.BuildChain(ChainRequest{
		Symbol:       "NIFTY",
		Spot:         100,
		Expiries:     []time.Time{oneYear()},
		Strikes:      []float64{100, 105},
		Volatility:   0.2,
		RiskFreeRate: 0.05,
	})
	require.NoError(t, err)

	quoted, ok := chain.Find(models.OptionCall, oneYear(), 100)
	require.True(t, ok)
	assert.False(t, quoted.Synthetic)
	assert.Equal(t, market, quoted.LTP)
	assert.Equal(t, int64(1200), quoted.Volume)
	assert.Equal(t, int64(5400), quoted.OI)
	assert.InDelta(t, 0.35, quoted.Greeks.IV, 1e-4)

	modelled, ok := chain.Find(models.OptionCall, oneYear(), 105)
	require.True(t, ok)
	assert.True(t, modelled.Synthetic)
	assert.InDelta(t, 0.2, modelled.Greeks.IV, 1e-12)
}

func TestBuildChain_Validation(t *testing.T) {
	b := newTestBuilder()

	_, err := b.BuildChain(ChainRequest{Spot: 100})
	assert.ErrorIs(t, err, apperrors.ErrInputValidation)

	_, err = b.BuildChain(ChainRequest{Symbol: "X", Spot: 0})
	assert.ErrorIs(t, err, apperrors.ErrInputValidation)
}

func TestBuildStrategy_Straddle(t *testing.T) {
	b := newTestBuilder()
	s, err := b.BuildStrategy(StrategyRequest{
		Kind: models.StrategyStraddle, Symbol: "NIFTY", Strikes: []float64{100},
		Expiry: oneYear(), Spot: 100, Volatility: 0.2,
	})
	require.NoError(t, err)

	require.Len(t, s.Legs, 2)
	call, put := s.Legs[0].Contract, s.Legs[1].Contract
	premium := call.LTP + put.LTP

	assert.InDelta(t, premium, s.NetPremium, 1e-12)
	assert.InDelta(t, premium, s.MaxLoss, 1e-12)
	assert.True(t, s.MaxProfitUnbounded)
	assert.Zero(t, s.RiskRewardRatio)
	require.Len(t, s.Breakevens, 2)
	assert.InDelta(t, 100-premium, s.Breakevens[0], 1e-12)
	assert.InDelta(t, 100+premium, s.Breakevens[1], 1e-12)

	assert.InDelta(t, call.Greeks.Delta+put.Greeks.Delta, s.Greeks.Delta, 1e-12)
	assert.InDelta(t, call.Greeks.Gamma*2, s.Greeks.Gamma, 1e-12)
	assert.InDelta(t, 0.2, s.Greeks.IV, 1e-12)

	for _, be := range s.Breakevens {
		assert.InDelta(t, 0, Payoff(s, be), 1e-9)
	}
	assert.InDelta(t, -s.MaxLoss, Payoff(s, 100), 1e-9)
	assert.Greater(t, s.ProbabilityOfProfit, 0.0)
	assert.Less(t, s.ProbabilityOfProfit, 1.0)
}

func TestBuildStrategy_StrangleSortsStrikes(t *testing.T) {
	b := newTestBuilder()
	s, err := b.BuildStrategy(StrategyRequest{
		Kind: models.StrategyStrangle, Symbol: "NIFTY", Strikes: []float64{110, 90},
		Expiry: oneYear(), Spot: 100, Volatility: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OptionPut, s.Legs[0].Contract.Type)
	assert.Equal(t, 90.0, s.Legs[0].Contract.Strike)
	assert.Equal(t, models.OptionCall, s.Legs[1].Contract.Type)
	assert.Equal(t, 110.0, s.Legs[1].Contract.Strike)

	premium := s.NetPremium
	assert.InDelta(t, 90-premium, s.Breakevens[0], 1e-12)
	assert.InDelta(t, 110+premium, s.Breakevens[1], 1e-12)
	assert.InDelta(t, -premium, Payoff(s, 100), 1e-9)
}

func TestBuildStrategy_Butterfly(t *testing.T) {
	b := newTestBuilder()
	s, err := b.BuildStrategy(StrategyRequest{
		Kind: models.StrategyButterfly, Symbol: "NIFTY", Strikes: []float64{90, 100, 110},
		Expiry: oneYear(), Spot: 100, Volatility: 0.2, Quantity: 2,
	})
	require.NoError(t, err)

	require.Len(t, s.Legs, 3)
	mid := s.Legs[1]
	assert.Equal(t, models.OrderSideSell, mid.Side)
	assert.Equal(t, 2, mid.Ratio)
	assert.Equal(t, 2, mid.Quantity)

	debit := s.Legs[0].Contract.LTP - 2*mid.Contract.LTP + s.Legs[2].Contract.LTP
	assert.Greater(t, debit, 0.0)
	assert.InDelta(t, 2*debit, s.NetPremium, 1e-12)
	assert.InDelta(t, 2*debit, s.MaxLoss, 1e-12)
	assert.InDelta(t, 2*((110-90)-2*debit), s.MaxProfit, 1e-12)
	assert.False(t, s.MaxProfitUnbounded)
	assert.InDelta(t, s.MaxProfit/s.MaxLoss, s.RiskRewardRatio, 1e-12)
	assert.InDelta(t, 90+debit, s.Breakevens[0], 1e-12)
	assert.InDelta(t, 110-debit, s.Breakevens[1], 1e-12)

	assert.InDelta(t, -s.MaxLoss, Payoff(s, 80), 1e-9)
	assert.InDelta(t, -s.MaxLoss, Payoff(s, 120), 1e-9)
	assert.InDelta(t, 0, Payoff(s, s.Breakevens[0]), 1e-9)
}

func TestBuildStrategy_Spreads(t *testing.T) {
	b := newTestBuilder()

	bull, err := b.BuildStrategy(StrategyRequest{
		Kind: models.StrategyBullCallSpread, Symbol: "NIFTY", Strikes: []float64{95, 105},
		Expiry: oneYear(), Spot: 100, Volatility: 0.2,
	})
	require.NoError(t, err)
	assert.InDelta(t, -bull.MaxLoss, Payoff(bull, 90), 1e-9)
	assert.InDelta(t, bull.MaxProfit, Payoff(bull, 120), 1e-9)
	assert.InDelta(t, 0, Payoff(bull, bull.Breakevens[0]), 1e-9)

	bear, err := b.BuildStrategy(StrategyRequest{
		Kind: models.StrategyBearPutSpread, Symbol: "NIFTY", Strikes: []float64{95, 105},
		Expiry: oneYear(), Spot: 100, Volatility: 0.2,
	})
	require.NoError(t, err)
	assert.InDelta(t, bear.MaxProfit, Payoff(bear, 80), 1e-9)
	assert.InDelta(t, -bear.MaxLoss, Payoff(bear, 120), 1e-9)
	assert.InDelta(t, 0, Payoff(bear, bear.Breakevens[0]), 1e-9)
}

func TestBuildStrategy_IronCondor(t *testing.T) {
	b := newTestBuilder()
	s, err := b.BuildStrategy(StrategyRequest{
		Kind: models.StrategyIronCondor, Symbol: "NIFTY", Strikes: []float64{85, 95, 105, 115},
		Expiry: oneYear(), Spot: 100, Volatility: 0.2,
	})
	require.NoError(t, err)

	assert.Less(t, s.NetPremium, 0.0)
	credit := -s.NetPremium
	assert.InDelta(t, credit, s.MaxProfit, 1e-12)
	assert.InDelta(t, credit, Payoff(s, 100), 1e-9)
	assert.InDelta(t, -s.MaxLoss, Payoff(s, 70), 1e-9)
	assert.InDelta(t, -s.MaxLoss, Payoff(s, 130), 1e-9)
	for _, be := range s.Breakevens {
		assert.InDelta(t, 0, Payoff(s, be), 1e-9)
	}
}

func TestBuildStrategy_Errors(t *testing.T) {
	b := newTestBuilder()

	_, err := b.BuildStrategy(StrategyRequest{Kind: "calendar", Symbol: "X", Spot: 100, Strikes: []float64{100}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStrategy)

	_, err = b.BuildStrategy(StrategyRequest{Kind: models.StrategyButterfly, Symbol: "X", Spot: 100, Strikes: []float64{90, 100}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStrategy)

	_, err = b.BuildStrategy(StrategyRequest{Kind: models.StrategyStrangle, Symbol: "X", Spot: 100, Strikes: []float64{100, 100}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStrategy)

	_, err = b.BuildStrategy(StrategyRequest{Kind: models.StrategyStraddle, Symbol: "X", Spot: 100, Strikes: []float64{-5}})
	assert.ErrorIs(t, err, apperrors.ErrInputValidation)

	_, err = b.BuildStrategy(StrategyRequest{Kind: models.StrategyStraddle, Symbol: "X", Spot: 100, Strikes: []float64{100}, Quantity: -1})
	assert.ErrorIs(t, err, apperrors.ErrInputValidation)
}

func TestProbabilityOfProfit(t *testing.T) {
	assert.InDelta(t, 0.5, ProbabilityOfProfit(100, 0.2, 1, []float64{100}), 1e-9)

	upper := ProbabilityOfProfit(100, 0.2, 1, []float64{120})
	lower := ProbabilityOfProfit(100, 0.2, 1, []float64{80})
	assert.Less(t, upper, 0.5)
	assert.Greater(t, lower, 0.5)
	assert.InDelta(t, (upper+lower)/2, ProbabilityOfProfit(100, 0.2, 1, []float64{80, 120}), 1e-12)

	assert.Equal(t, 1.0, ProbabilityOfProfit(100, 0.2, 0, []float64{90}))
	assert.Equal(t, 0.0, ProbabilityOfProfit(100, 0.2, 0, []float64{110}))
	assert.Equal(t, 0.0, ProbabilityOfProfit(100, 0.2, 1, nil))
	assert.False(t, math.IsNaN(ProbabilityOfProfit(100, 0.2, 1, []float64{-3, 100})))
}

func TestKinds(t *testing.T) {
	assert.Len(t, Kinds(), 6)
	assert.Contains(t, Kinds(), models.StrategyIronCondor)
}
