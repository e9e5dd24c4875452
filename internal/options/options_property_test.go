package options

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"quantrisk/internal/models"
)

// Property: the expiry payoff is zero at every reported break-even point.
func TestProperty_PayoffZeroAtBreakevens(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	b := newTestBuilder()

	properties.Property("straddle and spread break-evens are roots of the payoff", prop.ForAll(
		func(spot, width, vol float64, qty int) bool {
			lowK := math.Round(spot - width)
			highK := math.Round(spot + width)
			if lowK <= 0 || lowK == highK {
				return true
			}

			reqs := []StrategyRequest{
				{Kind: models.StrategyStraddle, Strikes: []float64{math.Round(spot)}},
				{Kind: models.StrategyStrangle, Strikes: []float64{lowK, highK}},
				{Kind: models.StrategyBullCallSpread, Strikes: []float64{lowK, highK}},
				{Kind: models.StrategyBearPutSpread, Strikes: []float64{lowK, highK}},
			}
			for _, req := range reqs {
				req.Symbol = "TEST"
				req.Spot = spot
				req.Volatility = vol
				req.Expiry = asOf.Add(90 * 24 * time.Hour)
				req.Quantity = qty

				s, err := b.BuildStrategy(req)
				if err != nil {
					return false
				}
				for _, be := range s.Breakevens {
					if math.Abs(Payoff(s, be)) > 1e-6*(1+math.Abs(s.NetPremium)) {
						return false
					}
				}
			}
			return true
		},
		gen.Float64Range(50, 500),
		gen.Float64Range(1, 20),
		gen.Float64Range(0.1, 0.6),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// Property: aggregate delta of a straddle equals the sum of its leg deltas
// scaled by quantity.
func TestProperty_AggregateGreeksScaleWithQuantity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	b := newTestBuilder()

	properties.Property("greeks are linear in quantity", prop.ForAll(
		func(spot float64, qty int) bool {
			req := StrategyRequest{
				Kind: models.StrategyStraddle, Symbol: "TEST", Strikes: []float64{100},
				Expiry: asOf.Add(60 * 24 * time.Hour), Spot: spot, Volatility: 0.25,
			}
			one, err := b.BuildStrategy(req)
			if err != nil {
				return false
			}
			req.Quantity = qty
			many, err := b.BuildStrategy(req)
			if err != nil {
				return false
			}
			n := float64(qty)
			return math.Abs(many.Greeks.Delta-n*one.Greeks.Delta) < 1e-9*n &&
				math.Abs(many.Greeks.Vega-n*one.Greeks.Vega) < 1e-9*n &&
				math.Abs(many.Greeks.IV-one.Greeks.IV) < 1e-12
		},
		gen.Float64Range(80, 120),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
