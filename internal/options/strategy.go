package options

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
	"quantrisk/internal/pricing"
)

// StrategyRequest describes a strategy to build. Rates come from the
// builder's pricing configuration.
type StrategyRequest struct {
	Kind       models.StrategyKind
	Symbol     string
	Strikes    []float64
	Expiry     time.Time
	Spot       float64
	Volatility float64
	// Quantity is the number of strategy units; defaults to 1.
	Quantity int
}

// legSpec is a leg before pricing.
type legSpec struct {
	typ    models.OptionType
	strike float64
	side   models.OrderSide
	ratio  int
}

// shape is the kind-specific part of a strategy: its legs and the
// closed-form profit profile per unit, given the per-unit net premium.
type shape struct {
	legs       []legSpec
	profile    func(net float64) profile
	strikeDesc string
}

type profile struct {
	maxProfit  float64
	unbounded  bool
	maxLoss    float64
	breakevens []float64
}

// constructor builds the shape of one strategy kind from sorted strikes.
type constructor func(strikes []float64) (shape, error)

var constructors = map[models.StrategyKind]constructor{
	models.StrategyStraddle:       straddle,
	models.StrategyStrangle:       strangle,
	models.StrategyButterfly:      butterfly,
	models.StrategyBullCallSpread: bullCallSpread,
	models.StrategyBearPutSpread:  bearPutSpread,
	models.StrategyIronCondor:     ironCondor,
}

// Kinds returns the supported strategy kinds in a stable order.
func Kinds() []models.StrategyKind {
	kinds := make([]models.StrategyKind, 0, len(constructors))
	for k := range constructors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func needStrikes(kind models.StrategyKind, strikes []float64, n int) error {
	if len(strikes) != n {
		return apperrors.Wrapf(apperrors.ErrInvalidStrategy, "%s needs %d strikes, got %d", kind, n, len(strikes))
	}
	return nil
}

func distinct(kind models.StrategyKind, strikes []float64) error {
	for i := 1; i < len(strikes); i++ {
		if strikes[i] == strikes[i-1] {
			return apperrors.Wrapf(apperrors.ErrInvalidStrategy, "%s needs distinct strikes", kind)
		}
	}
	return nil
}

func straddle(strikes []float64) (shape, error) {
	if err := needStrikes(models.StrategyStraddle, strikes, 1); err != nil {
		return shape{}, err
	}
	k := strikes[0]
	return shape{
		legs: []legSpec{
			{models.OptionCall, k, models.OrderSideBuy, 1},
			{models.OptionPut, k, models.OrderSideBuy, 1},
		},
		profile: func(net float64) profile {
			return profile{unbounded: true, maxLoss: net, breakevens: []float64{k - net, k + net}}
		},
		strikeDesc: fmt.Sprintf("%g", k),
	}, nil
}

func strangle(strikes []float64) (shape, error) {
	if err := needStrikes(models.StrategyStrangle, strikes, 2); err != nil {
		return shape{}, err
	}
	if err := distinct(models.StrategyStrangle, strikes); err != nil {
		return shape{}, err
	}
	put, call := strikes[0], strikes[1]
	return shape{
		legs: []legSpec{
			{models.OptionPut, put, models.OrderSideBuy, 1},
			{models.OptionCall, call, models.OrderSideBuy, 1},
		},
		profile: func(net float64) profile {
			return profile{unbounded: true, maxLoss: net, breakevens: []float64{put - net, call + net}}
		},
		strikeDesc: fmt.Sprintf("%g/%g", put, call),
	}, nil
}

func butterfly(strikes []float64) (shape, error) {
	if err := needStrikes(models.StrategyButterfly, strikes, 3); err != nil {
		return shape{}, err
	}
	if err := distinct(models.StrategyButterfly, strikes); err != nil {
		return shape{}, err
	}
	low, mid, high := strikes[0], strikes[1], strikes[2]
	return shape{
		legs: []legSpec{
			{models.OptionCall, low, models.OrderSideBuy, 1},
			{models.OptionCall, mid, models.OrderSideSell, 2},
			{models.OptionCall, high, models.OrderSideBuy, 1},
		},
		profile: func(net float64) profile {
			return profile{
				maxProfit:  (high - low) - 2*net,
				maxLoss:    net,
				breakevens: []float64{low + net, high - net},
			}
		},
		strikeDesc: fmt.Sprintf("%g/%g/%g", low, mid, high),
	}, nil
}

func bullCallSpread(strikes []float64) (shape, error) {
	if err := needStrikes(models.StrategyBullCallSpread, strikes, 2); err != nil {
		return shape{}, err
	}
	if err := distinct(models.StrategyBullCallSpread, strikes); err != nil {
		return shape{}, err
	}
	low, high := strikes[0], strikes[1]
	return shape{
		legs: []legSpec{
			{models.OptionCall, low, models.OrderSideBuy, 1},
			{models.OptionCall, high, models.OrderSideSell, 1},
		},
		profile: func(net float64) profile {
			return profile{maxProfit: (high - low) - net, maxLoss: net, breakevens: []float64{low + net}}
		},
		strikeDesc: fmt.Sprintf("%g/%g", low, high),
	}, nil
}

func bearPutSpread(strikes []float64) (shape, error) {
	if err := needStrikes(models.StrategyBearPutSpread, strikes, 2); err != nil {
		return shape{}, err
	}
	if err := distinct(models.StrategyBearPutSpread, strikes); err != nil {
		return shape{}, err
	}
	low, high := strikes[0], strikes[1]
	return shape{
		legs: []legSpec{
			{models.OptionPut, high, models.OrderSideBuy, 1},
			{models.OptionPut, low, models.OrderSideSell, 1},
		},
		profile: func(net float64) profile {
			return profile{maxProfit: (high - low) - net, maxLoss: net, breakevens: []float64{high - net}}
		},
		strikeDesc: fmt.Sprintf("%g/%g", low, high),
	}, nil
}

func ironCondor(strikes []float64) (shape, error) {
	if err := needStrikes(models.StrategyIronCondor, strikes, 4); err != nil {
		return shape{}, err
	}
	if err := distinct(models.StrategyIronCondor, strikes); err != nil {
		return shape{}, err
	}
	k1, k2, k3, k4 := strikes[0], strikes[1], strikes[2], strikes[3]
	return shape{
		legs: []legSpec{
			{models.OptionPut, k1, models.OrderSideBuy, 1},
			{models.OptionPut, k2, models.OrderSideSell, 1},
			{models.OptionCall, k3, models.OrderSideSell, 1},
			{models.OptionCall, k4, models.OrderSideBuy, 1},
		},
		// net is negative for a credit.
		profile: func(net float64) profile {
			credit := -net
			return profile{
				maxProfit:  credit,
				maxLoss:    math.Max(k2-k1, k4-k3) - credit,
				breakevens: []float64{k2 - credit, k3 + credit},
			}
		},
		strikeDesc: fmt.Sprintf("%g/%g/%g/%g", k1, k2, k3, k4),
	}, nil
}

// BuildStrategy prices the legs of req.Kind and derives its profile.
func (b *Builder) BuildStrategy(req StrategyRequest) (*models.OptionStrategy, error) {
	build, ok := constructors[req.Kind]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidStrategy, "unknown strategy kind %q", req.Kind)
	}
	if req.Symbol == "" {
		return nil, apperrors.NewValidationError("symbol", req.Symbol, "symbol is required")
	}
	if req.Spot <= 0 {
		return nil, apperrors.NewValidationError("spot", req.Spot, "spot must be positive")
	}
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, apperrors.NewValidationError("quantity", req.Quantity, "quantity must be positive")
	}

	strikes := append([]float64(nil), req.Strikes...)
	sort.Float64s(strikes)
	for _, k := range strikes {
		if k <= 0 || math.IsNaN(k) {
			return nil, apperrors.NewValidationError("strikes", req.Strikes, "strikes must be positive")
		}
	}

	sh, err := build(strikes)
	if err != nil {
		return nil, err
	}

	asOf := b.now()
	years := YearsUntil(asOf, req.Expiry)

	strategy := &models.OptionStrategy{
		Name:       fmt.Sprintf("%s %s %s", req.Symbol, req.Kind, sh.strikeDesc),
		Kind:       req.Kind,
		Underlying: req.Symbol,
		Legs:       make([]models.OptionLeg, 0, len(sh.legs)),
	}

	var perUnit float64
	for _, ls := range sh.legs {
		params := models.PricingParams{
			Spot:          req.Spot,
			Strike:        ls.strike,
			TimeToExpiry:  years,
			RiskFreeRate:  b.rate,
			DividendYield: b.dividend,
			Volatility:    req.Volatility,
			Type:          ls.typ,
		}
		leg := models.OptionLeg{
			Contract: b.contract(req.Symbol, req.Expiry, params),
			Side:     ls.side,
			Quantity: qty,
			Ratio:    ls.ratio,
		}
		perUnit += ls.side.Sign() * leg.Contract.LTP * float64(ls.ratio)
		strategy.Legs = append(strategy.Legs, leg)
	}

	prof := sh.profile(perUnit)
	units := float64(qty)
	strategy.NetPremium = perUnit * units
	strategy.MaxProfit = prof.maxProfit * units
	strategy.MaxProfitUnbounded = prof.unbounded
	strategy.MaxLoss = prof.maxLoss * units
	strategy.Breakevens = prof.breakevens
	strategy.Greeks = AggregateGreeks(strategy.Legs)
	strategy.ProbabilityOfProfit = ProbabilityOfProfit(req.Spot, req.Volatility, years, prof.breakevens)
	if !prof.unbounded && strategy.MaxLoss > 0 {
		strategy.RiskRewardRatio = strategy.MaxProfit / strategy.MaxLoss
	}

	return strategy, nil
}

// AggregateGreeks sums leg Greeks signed by side and scaled by quantity and
// ratio. IV is the quantity-weighted mean of leg IVs.
func AggregateGreeks(legs []models.OptionLeg) models.OptionGreeks {
	var g models.OptionGreeks
	var ivWeight float64
	for _, leg := range legs {
		units := float64(leg.Quantity * leg.Ratio)
		w := leg.Side.Sign() * units
		g.Delta += leg.Contract.Greeks.Delta * w
		g.Gamma += leg.Contract.Greeks.Gamma * w
		g.Theta += leg.Contract.Greeks.Theta * w
		g.Vega += leg.Contract.Greeks.Vega * w
		g.Rho += leg.Contract.Greeks.Rho * w
		g.IV += leg.Contract.Greeks.IV * units
		ivWeight += units
	}
	if ivWeight > 0 {
		g.IV /= ivWeight
	}
	return g
}

// ProbabilityOfProfit averages P(S_T > breakeven) under log-normal diffusion
// across the break-even points. It is an approximation, not a
// strategy-specific closed form.
func ProbabilityOfProfit(spot, vol, years float64, breakevens []float64) float64 {
	var sum float64
	var n int
	scale := vol * math.Sqrt(years)
	for _, be := range breakevens {
		if be <= 0 || spot <= 0 {
			continue
		}
		n++
		if scale <= 0 {
			if spot > be {
				sum++
			}
			continue
		}
		z := math.Log(be/spot) / scale
		sum += 1 - pricing.NormCDF(z)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Payoff returns the strategy's profit at expiry for an underlying price,
// net of the premium paid or received.
func Payoff(s *models.OptionStrategy, price float64) float64 {
	var value float64
	for _, leg := range s.Legs {
		intrinsic := pricing.IntrinsicValue(price, leg.Contract.Strike, leg.Contract.Type)
		value += leg.Side.Sign() * intrinsic * float64(leg.Quantity*leg.Ratio)
	}
	return value - s.NetPremium
}
