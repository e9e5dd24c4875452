// Package analytics computes portfolio summaries, performance statistics and
// parametric risk figures. Every function is pure; inputs are snapshots
// supplied by the portfolio service.
package analytics

import (
	"math"

	"github.com/shopspring/decimal"

	"quantrisk/internal/config"
	"quantrisk/internal/models"
)

const unclassifiedSector = "unclassified"

// Analyzer computes analytics with a fixed configuration.
type Analyzer struct {
	cfg    config.AnalyticsConfig
	policy MatchingPolicy
}

// New creates an analyzer. An unknown trade matching policy falls back to
// first-available matching.
func New(cfg config.AnalyticsConfig) *Analyzer {
	def := config.Default().Analytics
	if cfg.TradingDays <= 0 {
		cfg.TradingDays = def.TradingDays
	}
	if cfg.VaRConfidence <= 0.5 || cfg.VaRConfidence >= 1 {
		cfg.VaRConfidence = def.VaRConfidence
	}
	if cfg.DefaultPositionVolatility <= 0 {
		cfg.DefaultPositionVolatility = def.DefaultPositionVolatility
	}
	if cfg.LiquidityThreshold <= 0 {
		cfg.LiquidityThreshold = def.LiquidityThreshold
	}
	policy, err := ParseMatchingPolicy(cfg.TradeMatching)
	if err != nil {
		policy = MatchFirstAvailable
	}
	return &Analyzer{cfg: cfg, policy: policy}
}

// Default returns an analyzer with default settings.
func Default() *Analyzer {
	return New(config.Default().Analytics)
}

// Config returns the effective configuration.
func (a *Analyzer) Config() config.AnalyticsConfig {
	return a.cfg
}

// Summary aggregates position values. Daily P&L is reported only when every
// open position carries a previous close.
func (a *Analyzer) Summary(positions []models.PortfolioPosition) models.PortfolioSummary {
	var (
		value    = decimal.Zero
		cost     = decimal.Zero
		realized = decimal.Zero
		daily    = decimal.Zero
		prevVal  = decimal.Zero
		bySector = make(map[string]decimal.Decimal)
	)

	dailyKnown := len(positions) > 0
	count := 0
	for _, p := range positions {
		qty := dec(p.Quantity)
		mv := qty.Mul(dec(p.CurrentPrice))

		value = value.Add(mv)
		cost = cost.Add(qty.Mul(dec(p.AverageCost)))
		realized = realized.Add(dec(p.RealizedPnL))

		sector := p.Sector
		if sector == "" {
			sector = unclassifiedSector
		}
		bySector[sector] = bySector[sector].Add(mv)

		if p.Quantity == 0 {
			continue
		}
		count++
		if p.PreviousClose <= 0 {
			dailyKnown = false
			continue
		}
		prev := qty.Mul(dec(p.PreviousClose))
		prevVal = prevVal.Add(prev)
		daily = daily.Add(mv.Sub(prev))
	}

	unrealized := value.Sub(cost)
	s := models.PortfolioSummary{
		TotalValue:       value.InexactFloat64(),
		TotalCost:        cost.InexactFloat64(),
		UnrealizedPnL:    unrealized.InexactFloat64(),
		RealizedPnL:      realized.InexactFloat64(),
		PositionCount:    count,
		SectorAllocation: make(map[string]float64, len(bySector)),
	}
	if !cost.IsZero() {
		s.UnrealizedPnLPercent = percentOf(unrealized, cost)
	}
	if dailyKnown && count > 0 {
		s.DailyPnLAvailable = true
		s.DailyPnL = daily.InexactFloat64()
		if !prevVal.IsZero() {
			s.DailyPnLPercent = percentOf(daily, prevVal)
		}
	}
	if !value.IsZero() {
		for sector, v := range bySector {
			s.SectorAllocation[sector] = percentOf(v, value)
		}
	}
	return s
}

// dec converts a float, mapping NaN and infinities to zero.
func dec(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func percentOf(part, whole decimal.Decimal) float64 {
	return part.Div(whole).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// Returns converts a value series into simple period returns. Periods that
// start from a non-positive value are skipped.
func Returns(history []models.HistoryPoint) []float64 {
	if len(history) < 2 {
		return nil
	}
	out := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].Value
		if prev <= 0 {
			continue
		}
		out = append(out, history[i].Value/prev-1)
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline of a value series as
// a fraction of the peak.
func MaxDrawdown(history []models.HistoryPoint) float64 {
	var peak, maxDD float64
	for _, h := range history {
		if h.Value > peak {
			peak = h.Value
			continue
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-h.Value)/peak)
		}
	}
	return maxDD
}
