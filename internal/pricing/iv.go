package pricing

import (
	"math"

	"quantrisk/internal/models"
)

// flatVega is the raw vega below which a Newton step cannot make progress.
const flatVega = 1e-8

// IVOptions controls the implied volatility solver.
type IVOptions struct {
	MaxIterations int
	Tolerance     float64
	InitialGuess  float64
}

// DefaultIVOptions returns 100 iterations, 1e-6 tolerance and a 30% start.
func DefaultIVOptions() IVOptions {
	return IVOptions{
		MaxIterations: 100,
		Tolerance:     1e-6,
		InitialGuess:  0.30,
	}
}

func (o IVOptions) withDefaults() IVOptions {
	def := DefaultIVOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = def.Tolerance
	}
	if o.InitialGuess <= 0 {
		o.InitialGuess = def.InitialGuess
	}
	return o
}

// IVResult reports the solver outcome. Converged is false when the solver
// stopped on a flat vega or ran out of iterations; Volatility then holds
// the best estimate reached.
type IVResult struct {
	Volatility float64 `json:"volatility"`
	Iterations int     `json:"iterations"`
	Residual   float64 `json:"residual"`
	Converged  bool    `json:"converged"`
}

// ImpliedVolatility solves for the volatility that reproduces marketPrice
// with the default options. It always returns an estimate.
func ImpliedVolatility(marketPrice float64, params models.PricingParams) float64 {
	return defaultPricer.SolveIV(marketPrice, params, defaultPricer.iv).Volatility
}

// ImpliedVolatility solves with the pricer's configured options.
func (p *Pricer) ImpliedVolatility(marketPrice float64, params models.PricingParams) IVResult {
	return p.SolveIV(marketPrice, params, p.iv)
}

// SolveIV runs Newton-Raphson on volatility. params.Volatility is ignored.
func (p *Pricer) SolveIV(marketPrice float64, params models.PricingParams, opts IVOptions) IVResult {
	opts = opts.withDefaults()

	sigma := opts.InitialGuess
	res := IVResult{Volatility: sigma, Residual: math.Inf(1)}

	for i := 0; i < opts.MaxIterations; i++ {
		params.Volatility = sigma
		diff := p.Price(params) - marketPrice

		res.Volatility = sigma
		res.Iterations = i + 1
		res.Residual = math.Abs(diff)

		if res.Residual < opts.Tolerance {
			res.Converged = true
			return res
		}

		// Vega is quoted per vol point; the Newton step needs the raw derivative.
		vega := p.Greeks(params).Vega * 100
		if math.Abs(vega) < flatVega {
			return res
		}

		sigma -= diff / vega
		if sigma <= 0 || math.IsNaN(sigma) {
			sigma = p.minVol
		}
	}

	// Out of iterations: report the last estimate.
	params.Volatility = sigma
	res.Volatility = sigma
	res.Residual = math.Abs(p.Price(params) - marketPrice)
	res.Converged = res.Residual < opts.Tolerance
	return res
}
