// Package pricing implements closed-form European option pricing, Greeks
// and an implied volatility solver.
package pricing

import (
	"math"

	"quantrisk/internal/config"
	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
)

// MinVolatility is the default volatility floor.
const MinVolatility = 0.01

// MaxVolatility caps an infinite volatility input.
const MaxVolatility = 10.0

// Pricer evaluates the Black-Scholes-Merton model with continuous dividend yield.
type Pricer struct {
	minVol float64
	iv     IVOptions
}

// NewPricer creates a pricer from configuration.
func NewPricer(cfg config.PricingConfig) *Pricer {
	p := &Pricer{
		minVol: cfg.MinVolatility,
		iv: IVOptions{
			MaxIterations: cfg.IVMaxIterations,
			Tolerance:     cfg.IVTolerance,
			InitialGuess:  cfg.IVInitialGuess,
		},
	}
	if p.minVol <= 0 {
		p.minVol = MinVolatility
	}
	p.iv = p.iv.withDefaults()
	return p
}

var defaultPricer = &Pricer{minVol: MinVolatility, iv: DefaultIVOptions()}

// Default returns the pricer used by the package-level functions.
func Default() *Pricer {
	return defaultPricer
}

// Validate checks that params can be priced.
func Validate(params models.PricingParams) error {
	if params.Type != models.OptionCall && params.Type != models.OptionPut {
		return apperrors.Wrapf(apperrors.ErrInvalidParams, "unknown option type %q", params.Type)
	}
	if params.Spot <= 0 || math.IsNaN(params.Spot) || math.IsInf(params.Spot, 0) {
		return apperrors.Wrapf(apperrors.ErrInvalidParams, "spot must be positive, got %v", params.Spot)
	}
	if params.Strike <= 0 || math.IsNaN(params.Strike) || math.IsInf(params.Strike, 0) {
		return apperrors.Wrapf(apperrors.ErrInvalidParams, "strike must be positive, got %v", params.Strike)
	}
	if math.IsNaN(params.TimeToExpiry) || math.IsInf(params.TimeToExpiry, 0) ||
		math.IsNaN(params.Volatility) || math.IsInf(params.Volatility, 0) {
		return apperrors.Wrap(apperrors.ErrInvalidParams, "time to expiry and volatility must be finite")
	}
	return nil
}

// IntrinsicValue returns max(0, S-K) for calls and max(0, K-S) for puts.
func IntrinsicValue(spot, strike float64, typ models.OptionType) float64 {
	if typ == models.OptionPut {
		return math.Max(0, strike-spot)
	}
	return math.Max(0, spot-strike)
}

// Price returns the model price of an option.
func Price(params models.PricingParams) float64 {
	return defaultPricer.Price(params)
}

// Greeks returns the sensitivities of an option.
func Greeks(params models.PricingParams) models.OptionGreeks {
	return defaultPricer.Greeks(params)
}

func (p *Pricer) vol(v float64) float64 {
	if v < p.minVol || math.IsNaN(v) {
		return p.minVol
	}
	if math.IsInf(v, 1) {
		return MaxVolatility
	}
	return v
}

// expired reports whether the option should be valued at intrinsic.
// Non-positive spot or strike also falls back to intrinsic so no NaN escapes.
func expired(params models.PricingParams) bool {
	return params.TimeToExpiry <= 0 || params.Spot <= 0 || params.Strike <= 0
}

func (p *Pricer) d1d2(params models.PricingParams) (d1, d2, sigma, sqrtT float64) {
	sigma = p.vol(params.Volatility)
	sqrtT = math.Sqrt(params.TimeToExpiry)
	d1 = (math.Log(params.Spot/params.Strike) +
		(params.RiskFreeRate-params.DividendYield+0.5*sigma*sigma)*params.TimeToExpiry) / (sigma * sqrtT)
	d2 = d1 - sigma*sqrtT
	return d1, d2, sigma, sqrtT
}

// Price returns the model price of an option. At or past expiry the
// intrinsic value is returned.
func (p *Pricer) Price(params models.PricingParams) float64 {
	if expired(params) {
		return IntrinsicValue(params.Spot, params.Strike, params.Type)
	}

	d1, d2, _, _ := p.d1d2(params)
	T := params.TimeToExpiry
	spotDisc := params.Spot * math.Exp(-params.DividendYield*T)
	strikeDisc := params.Strike * math.Exp(-params.RiskFreeRate*T)

	if params.Type == models.OptionPut {
		return strikeDisc*NormCDF(-d2) - spotDisc*NormCDF(-d1)
	}
	return spotDisc*NormCDF(d1) - strikeDisc*NormCDF(d2)
}

// Greeks returns delta, gamma, theta (per day), vega (per vol point) and
// rho (per rate point). At expiry only delta is non-zero.
func (p *Pricer) Greeks(params models.PricingParams) models.OptionGreeks {
	if expired(params) {
		delta := 1.0
		if params.Type == models.OptionPut {
			delta = -1.0
		}
		return models.OptionGreeks{Delta: delta, IV: params.Volatility}
	}

	d1, d2, sigma, sqrtT := p.d1d2(params)
	T := params.TimeToExpiry
	r, q := params.RiskFreeRate, params.DividendYield
	S, K := params.Spot, params.Strike
	divDisc := math.Exp(-q * T)
	rateDisc := math.Exp(-r * T)
	pdf := NormPDF(d1)

	g := models.OptionGreeks{
		Gamma: divDisc * pdf / (S * sigma * sqrtT),
		Vega:  S * divDisc * pdf * sqrtT / 100,
		IV:    sigma,
	}

	decay := -S * divDisc * pdf * sigma / (2 * sqrtT)
	if params.Type == models.OptionPut {
		g.Delta = divDisc * (NormCDF(d1) - 1)
		g.Theta = (decay + r*K*rateDisc*NormCDF(-d2) - q*S*divDisc*NormCDF(-d1)) / 365
		g.Rho = -K * T * rateDisc * NormCDF(-d2) / 100
	} else {
		g.Delta = divDisc * NormCDF(d1)
		g.Theta = (decay - r*K*rateDisc*NormCDF(d2) + q*S*divDisc*NormCDF(d1)) / 365
		g.Rho = K * T * rateDisc * NormCDF(d2) / 100
	}

	return g
}
