package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/internal/config"
	"quantrisk/internal/models"
)

func atm(typ models.OptionType) models.PricingParams {
	return models.PricingParams{
		Spot:         100,
		Strike:       100,
		TimeToExpiry: 1,
		RiskFreeRate: 0.05,
		Volatility:   0.20,
		Type:         typ,
	}
}

func TestBlackScholesBenchmark(t *testing.T) {
	assert.InDelta(t, 10.45, Price(atm(models.OptionCall)), 0.01)
	assert.InDelta(t, 5.57, Price(atm(models.OptionPut)), 0.01)
}

func TestPutCallParity(t *testing.T) {
	call := atm(models.OptionCall)
	call.DividendYield = 0.02
	call.Strike = 95
	put := call
	put.Type = models.OptionPut

	lhs := Price(call) - Price(put)
	rhs := call.Spot*math.Exp(-call.DividendYield) - call.Strike*math.Exp(-call.RiskFreeRate)
	assert.InDelta(t, rhs, lhs, 1e-8)
}

func TestExpiredOptionIsIntrinsic(t *testing.T) {
	for _, tc := range []struct {
		typ    models.OptionType
		spot   float64
		strike float64
		want   float64
	}{
		{models.OptionCall, 110, 100, 10},
		{models.OptionCall, 90, 100, 0},
		{models.OptionPut, 90, 100, 10},
		{models.OptionPut, 110, 100, 0},
	} {
		p := models.PricingParams{Spot: tc.spot, Strike: tc.strike, TimeToExpiry: 0, Volatility: 0.3, Type: tc.typ}
		assert.Equal(t, tc.want, Price(p))
		assert.Equal(t, IntrinsicValue(tc.spot, tc.strike, tc.typ), Price(p))

		p.TimeToExpiry = -0.5
		assert.Equal(t, tc.want, Price(p))
	}
}

func TestExpiredGreeks(t *testing.T) {
	call := atm(models.OptionCall)
	call.TimeToExpiry = 0
	g := Greeks(call)
	assert.Equal(t, 1.0, g.Delta)
	assert.Zero(t, g.Gamma)
	assert.Zero(t, g.Theta)
	assert.Zero(t, g.Vega)
	assert.Zero(t, g.Rho)

	put := atm(models.OptionPut)
	put.TimeToExpiry = 0
	assert.Equal(t, -1.0, Greeks(put).Delta)
}

func TestGreeksBenchmark(t *testing.T) {
	g := Greeks(atm(models.OptionCall))
	assert.InDelta(t, 0.6368, g.Delta, 1e-3)
	assert.InDelta(t, 0.01876, g.Gamma, 1e-4)
	assert.InDelta(t, 0.3752, g.Vega, 1e-3)    // per vol point
	assert.InDelta(t, -0.01757, g.Theta, 1e-4) // per day
	assert.InDelta(t, 0.5323, g.Rho, 1e-3)     // per rate point

	p := Greeks(atm(models.OptionPut))
	assert.InDelta(t, g.Delta-1, p.Delta, 1e-9)
	assert.InDelta(t, g.Gamma, p.Gamma, 1e-12)
	assert.InDelta(t, g.Vega, p.Vega, 1e-12)
}

func TestZeroVolatilityIsFloored(t *testing.T) {
	p := atm(models.OptionCall)
	p.Volatility = 0
	price := Price(p)
	assert.False(t, math.IsNaN(price))
	assert.False(t, math.IsInf(price, 0))

	p.Volatility = MinVolatility
	assert.Equal(t, Price(p), price)

	p.Volatility = -1
	g := Greeks(p)
	assert.False(t, math.IsNaN(g.Gamma))
	assert.Equal(t, MinVolatility, g.IV)
}

func TestInfiniteVolatilityIsCapped(t *testing.T) {
	for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
		p := atm(typ)
		p.Volatility = math.Inf(1)
		assert.Error(t, Validate(p))

		price := Price(p)
		assert.False(t, math.IsNaN(price), typ)
		assert.False(t, math.IsInf(price, 0), typ)

		g := Greeks(p)
		for _, v := range []float64{g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho} {
			assert.False(t, math.IsNaN(v), typ)
			assert.False(t, math.IsInf(v, 0), typ)
		}
		assert.Equal(t, MaxVolatility, g.IV)

		p.Volatility = MaxVolatility
		assert.Equal(t, Price(p), price)
	}

	p := atm(models.OptionCall)
	p.TimeToExpiry = math.Inf(1)
	assert.Error(t, Validate(p))
}

func TestNonPositiveSpotDoesNotProduceNaN(t *testing.T) {
	p := atm(models.OptionPut)
	p.Spot = 0
	assert.Equal(t, 100.0, Price(p))
	assert.Error(t, Validate(p))
	assert.NoError(t, Validate(atm(models.OptionCall)))
}

func TestErfAccuracy(t *testing.T) {
	for x := -4.0; x <= 4.0; x += 0.01 {
		assert.InDelta(t, math.Erf(x), Erf(x), 2e-7, "x=%v", x)
	}
	assert.InDelta(t, NormCDF(1.3), 1-NormCDF(-1.3), 1e-15)
}

func TestNormInv(t *testing.T) {
	assert.InDelta(t, -1.6449, NormInv(0.05), 1e-4)
	assert.InDelta(t, 2.3263, NormInv(0.99), 1e-4)
	assert.InDelta(t, 0, NormInv(0.5), 1e-12)
	assert.True(t, math.IsInf(NormInv(0), -1))
}

func TestImpliedVolatilityRecoversInput(t *testing.T) {
	p := atm(models.OptionCall)
	market := Price(p)

	res := Default().ImpliedVolatility(market, p)
	require.True(t, res.Converged)
	assert.InDelta(t, 0.20, res.Volatility, 1e-4)
	assert.Less(t, res.Residual, 1e-6)
	assert.LessOrEqual(t, res.Iterations, 100)
}

func TestImpliedVolatilityFlatVegaReturnsEstimate(t *testing.T) {
	p := atm(models.OptionCall)
	p.TimeToExpiry = 0

	res := Default().ImpliedVolatility(3, p)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0.30, res.Volatility)
}

func TestImpliedVolatilityIterationCap(t *testing.T) {
	p := atm(models.OptionCall)
	market := Price(models.PricingParams{Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.05, Volatility: 0.9, Type: models.OptionCall})

	res := Default().SolveIV(market, p, IVOptions{MaxIterations: 1, Tolerance: 1e-12, InitialGuess: 0.3})
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Greater(t, res.Volatility, 0.3)
	assert.False(t, math.IsNaN(res.Volatility))
}

func TestNewPricerFromConfig(t *testing.T) {
	p := NewPricer(config.PricingConfig{MinVolatility: 0.05})
	params := atm(models.OptionCall)
	params.Volatility = 0.01
	assert.Equal(t, 0.05, p.Greeks(params).IV)
	assert.Equal(t, DefaultIVOptions(), p.iv)
}
