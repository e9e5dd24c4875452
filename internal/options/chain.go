// Package options builds option chains and multi-leg strategies on top of
// the pricing core.
package options

import (
	"math"
	"sort"
	"time"

	"quantrisk/internal/config"
	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
	"quantrisk/internal/pricing"
)

const yearDays = 365.0

// Quote is externally sourced market data for one contract.
type Quote struct {
	LTP    float64
	Bid    float64
	Ask    float64
	Volume int64
	OI     int64
}

// QuoteSource supplies real quotes, volume and open interest.
type QuoteSource interface {
	Quote(underlying string, typ models.OptionType, expiry time.Time, strike float64) (Quote, bool)
}

// Builder constructs chains and strategies.
type Builder struct {
	pricer   *pricing.Pricer
	spread   float64
	rate     float64
	dividend float64
	quotes   QuoteSource
	now      func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithQuoteSource makes the builder prefer real quotes over synthetic ones.
func WithQuoteSource(src QuoteSource) Option {
	return func(b *Builder) { b.quotes = src }
}

// WithClock overrides the valuation clock.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a builder using cfg's synthetic spread.
func NewBuilder(pricer *pricing.Pricer, cfg config.PricingConfig, opts ...Option) *Builder {
	if pricer == nil {
		pricer = pricing.Default()
	}
	b := &Builder{
		pricer:   pricer,
		spread:   cfg.SyntheticSpread,
		rate:     cfg.RiskFreeRate,
		dividend: cfg.DividendYield,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ChainRequest describes the chain to build.
// Volatility is applied uniformly to every strike; there is no skew.
type ChainRequest struct {
	Symbol        string
	Spot          float64
	Expiries      []time.Time
	Strikes       []float64
	Volatility    float64
	RiskFreeRate  float64
	DividendYield float64
}

// YearsUntil converts the time to expiry into years, floored at zero.
func YearsUntil(asOf, expiry time.Time) float64 {
	years := expiry.Sub(asOf).Hours() / 24 / yearDays
	if years < 0 {
		return 0
	}
	return years
}

// BuildChain prices one call and one put for every expiry x strike pair.
func (b *Builder) BuildChain(req ChainRequest) (*models.OptionChain, error) {
	if req.Symbol == "" {
		return nil, apperrors.NewValidationError("symbol", req.Symbol, "symbol is required")
	}
	if req.Spot <= 0 {
		return nil, apperrors.NewValidationError("spot", req.Spot, "spot must be positive")
	}

	expiries := uniqueTimes(req.Expiries)
	strikes := uniqueStrikes(req.Strikes)
	asOf := b.now()

	chain := &models.OptionChain{
		Symbol:    req.Symbol,
		SpotPrice: req.Spot,
		Calls:     make([]models.OptionContract, 0, len(expiries)*len(strikes)),
		Puts:      make([]models.OptionContract, 0, len(expiries)*len(strikes)),
		UpdatedAt: asOf,
	}

	for _, expiry := range expiries {
		for _, strike := range strikes {
			params := models.PricingParams{
				Spot:          req.Spot,
				Strike:        strike,
				TimeToExpiry:  YearsUntil(asOf, expiry),
				RiskFreeRate:  req.RiskFreeRate,
				DividendYield: req.DividendYield,
				Volatility:    req.Volatility,
			}

			params.Type = models.OptionCall
			chain.Calls = append(chain.Calls, b.contract(req.Symbol, expiry, params))
			params.Type = models.OptionPut
			chain.Puts = append(chain.Puts, b.contract(req.Symbol, expiry, params))
		}
	}

	return chain, nil
}

// contract prices a single contract. A real quote replaces the model price
// and its implied volatility drives the Greeks.
func (b *Builder) contract(underlying string, expiry time.Time, params models.PricingParams) models.OptionContract {
	oc := models.OptionContract{
		Underlying: underlying,
		Type:       params.Type,
		Strike:     params.Strike,
		Expiry:     expiry,
	}

	quote, ok := Quote{}, false
	if b.quotes != nil {
		quote, ok = b.quotes.Quote(underlying, params.Type, expiry, params.Strike)
	}

	if ok && quote.LTP > 0 {
		iv := b.pricer.ImpliedVolatility(quote.LTP, params)
		params.Volatility = iv.Volatility
		oc.LTP = quote.LTP
		oc.Bid = quote.Bid
		oc.Ask = quote.Ask
		oc.Volume = quote.Volume
		oc.OI = quote.OI
	} else {
		oc.LTP = b.pricer.Price(params)
		oc.Bid = oc.LTP * (1 - b.spread)
		oc.Ask = oc.LTP * (1 + b.spread)
		oc.Synthetic = true
	}

	oc.Greeks = b.pricer.Greeks(params)
	oc.IntrinsicValue = pricing.IntrinsicValue(params.Spot, params.Strike, params.Type)
	oc.TimeValue = math.Max(0, oc.LTP-oc.IntrinsicValue)
	if params.Type == models.OptionCall {
		oc.InTheMoney = params.Spot > params.Strike
	} else {
		oc.InTheMoney = params.Spot < params.Strike
	}

	return oc
}

func uniqueStrikes(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	seen := make(map[float64]struct{}, len(in))
	for _, k := range in {
		if k <= 0 || math.IsNaN(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

func uniqueTimes(in []time.Time) []time.Time {
	out := make([]time.Time, 0, len(in))
	seen := make(map[int64]struct{}, len(in))
	for _, t := range in {
		key := t.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
