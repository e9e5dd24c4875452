package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"quantrisk/internal/models"
)

// Property: solving for volatility on a model price recovers the input
// volatility within 1e-4 wherever vega is large enough to pin it down.
func TestProperty_ImpliedVolatilityRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("iv(price(sigma)) == sigma", prop.ForAll(
		func(sigma, T, moneyness float64, isCall bool) bool {
			typ := models.OptionPut
			if isCall {
				typ = models.OptionCall
			}
			p := models.PricingParams{
				Spot:         100,
				Strike:       100 * moneyness,
				TimeToExpiry: T,
				RiskFreeRate: 0.03,
				Volatility:   sigma,
				Type:         typ,
			}
			// A flat vega leaves volatility undetermined by price alone.
			if Greeks(p).Vega*100 < 0.5 {
				return true
			}

			got := ImpliedVolatility(Price(p), p)
			return math.Abs(got-sigma) < 1e-4
		},
		gen.Float64Range(0.05, 1.0),
		gen.Float64Range(0.05, 2.0),
		gen.Float64Range(0.9, 1.1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: gamma does not depend on the option type.
func TestProperty_GammaSymmetry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("gamma(call) == gamma(put)", prop.ForAll(
		func(spot, strike, T, r, q, sigma float64) bool {
			call := models.PricingParams{
				Spot: spot, Strike: strike, TimeToExpiry: T,
				RiskFreeRate: r, DividendYield: q, Volatility: sigma,
				Type: models.OptionCall,
			}
			put := call
			put.Type = models.OptionPut
			return Greeks(call).Gamma == Greeks(put).Gamma
		},
		gen.Float64Range(10, 500),
		gen.Float64Range(10, 500),
		gen.Float64Range(0, 3),
		gen.Float64Range(0, 0.1),
		gen.Float64Range(0, 0.05),
		gen.Float64Range(0.01, 1.5),
	))

	properties.TestingRun(t)
}

// Property: prices are finite and non-negative up to the CDF approximation error.
func TestProperty_PriceIsFinite(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("price is finite and non-negative", prop.ForAll(
		func(spot, strike, T, sigma float64, isCall bool) bool {
			typ := models.OptionPut
			if isCall {
				typ = models.OptionCall
			}
			price := Price(models.PricingParams{
				Spot: spot, Strike: strike, TimeToExpiry: T,
				RiskFreeRate: 0.05, Volatility: sigma, Type: typ,
			})
			return !math.IsNaN(price) && !math.IsInf(price, 0) && price >= -1e-6*(spot+strike)
		},
		gen.Float64Range(1, 1000),
		gen.Float64Range(1, 1000),
		gen.Float64Range(-1, 5),
		gen.Float64Range(-0.5, 3),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
