package analytics

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"quantrisk/internal/models"
	"quantrisk/internal/pricing"
)

// RiskInput is the data behind a risk computation. Only Positions is
// required; absent history is reported rather than estimated.
type RiskInput struct {
	Positions []models.PortfolioPosition
	// History is the portfolio value series used for portfolio VaR.
	History []models.HistoryPoint
	// Volatility holds externally supplied annualized volatility per symbol.
	Volatility map[string]float64
	// PriceHistory holds per-symbol price series.
	PriceHistory map[string][]models.HistoryPoint
}

// RiskMetrics computes parametric VaR and concentration figures from a
// position list and a portfolio value history.
func (a *Analyzer) RiskMetrics(positions []models.PortfolioPosition, history []models.HistoryPoint) models.RiskMetrics {
	return a.Risk(RiskInput{Positions: positions, History: history})
}

// Risk computes risk metrics. Portfolio VaR assumes normally distributed
// returns: value x |z| x stdev(returns). VaR99 uses the 99% quantile.
func (a *Analyzer) Risk(in RiskInput) models.RiskMetrics {
	conf := a.cfg.VaRConfidence
	m := models.RiskMetrics{Confidence: conf}

	values := make(map[string]float64, len(in.Positions))
	for _, p := range in.Positions {
		if v := p.MarketValue(); v > 0 {
			values[p.Symbol] += v
			m.PortfolioValue += v
		}
	}

	z := math.Abs(pricing.NormInv(1 - conf))
	z99 := math.Abs(pricing.NormInv(0.01))

	returns := Returns(in.History)
	if sd, err := stats.StandardDeviationSample(returns); err == nil && !math.IsNaN(sd) {
		m.Observations = len(returns)
		m.DailyVolatility = sd
		m.VaR = m.PortfolioValue * z * sd
		m.VaR99 = m.PortfolioValue * z99 * sd
		m.ExpectedShortfall = m.PortfolioValue * sd * pricing.NormPDF(z) / (1 - conf)
	}

	symbols := make([]string, 0, len(values))
	for s := range values {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	days := float64(a.cfg.TradingDays)
	var liquid int
	m.Positions = make([]models.PositionVaR, 0, len(symbols))
	for _, sym := range symbols {
		v := values[sym]
		w := v / m.PortfolioValue
		vol, src := a.PositionVolatility(sym, in)
		m.Positions = append(m.Positions, models.PositionVaR{
			Symbol:           sym,
			Value:            v,
			Weight:           w,
			Volatility:       vol,
			VolatilitySource: src,
			VaR:              v * z * vol / math.Sqrt(days),
		})
		m.ConcentrationRisk += w * w
		if w > a.cfg.LiquidityThreshold {
			liquid++
		}
	}
	if len(symbols) > 0 {
		m.LiquidityRisk = float64(liquid) / float64(len(symbols))
	}

	return m
}

// PositionVolatility returns the annualized volatility for a symbol and
// where it came from: its own price history when at least three points are
// known, then a supplied figure, then the configured assumption.
func (a *Analyzer) PositionVolatility(symbol string, in RiskInput) (float64, models.VolatilitySource) {
	if pts := in.PriceHistory[symbol]; len(pts) >= 3 {
		if vol := HistoricalVolatility(pts, a.cfg.TradingDays); vol > 0 {
			return vol, models.VolatilityHistorical
		}
	}
	if vol, ok := in.Volatility[symbol]; ok && vol > 0 {
		return vol, models.VolatilitySupplied
	}
	return a.cfg.DefaultPositionVolatility, models.VolatilityAssumed
}

// HistoricalVolatility annualizes the sample standard deviation of period
// returns. It returns zero for fewer than two returns.
func HistoricalVolatility(points []models.HistoryPoint, tradingDays int) float64 {
	sd, err := stats.StandardDeviationSample(Returns(points))
	if err != nil || math.IsNaN(sd) {
		return 0
	}
	return sd * math.Sqrt(float64(tradingDays))
}

// Herfindahl returns the sum of squared value weights of positions with a
// positive market value.
func Herfindahl(positions []models.PortfolioPosition) float64 {
	var total float64
	for _, p := range positions {
		if v := p.MarketValue(); v > 0 {
			total += v
		}
	}
	if total == 0 {
		return 0
	}
	var hhi float64
	for _, p := range positions {
		if v := p.MarketValue(); v > 0 {
			w := v / total
			hhi += w * w
		}
	}
	return hhi
}
