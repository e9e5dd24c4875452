package risk

import (
	"math"
	"sort"

	"quantrisk/internal/analytics"
	"quantrisk/internal/models"
	"quantrisk/internal/pricing"
)

// Risk score weights and normalizers.
const (
	scoreRiskWeight          = 0.4
	scoreVolatilityWeight    = 0.3
	scoreConcentrationWeight = 0.2
	scoreLiquidityWeight     = 0.1

	riskPercentCeiling = 20.0
	volatilityCeiling  = 0.5
)

// PositionRisk evaluates one position at currentPrice. Concentration is
// taken from the position's weight.
func (e *Engine) PositionRisk(pos models.PortfolioPosition, currentPrice float64) models.PositionRisk {
	if validPrice(currentPrice) {
		pos.CurrentPrice = currentPrice
	}
	return e.positionRisk(pos, pos.Weight, e.volatilitySnapshot())
}

func (e *Engine) positionRisk(pos models.PortfolioPosition, weightPct float64, vols map[string]float64) models.PositionRisk {
	price := pos.CurrentPrice
	qty := pos.Quantity

	pr := models.PositionRisk{
		Symbol:        pos.Symbol,
		Sector:        pos.Sector,
		Quantity:      qty,
		CurrentPrice:  price,
		MarketValue:   pos.MarketValue(),
		CostBasis:     pos.CostBasis(),
		Concentration: weightPct,
	}

	stop, hasStop, target, hasTarget := e.protection(pos.Symbol)
	pr.HasStopLoss, pr.StopLossPrice = hasStop, stop
	pr.HasTakeProfit, pr.TakeProfitPrice = hasTarget, target

	if hasStop {
		pr.RiskAmount = math.Max(0, (price-stop)*qty)
	} else {
		pr.RiskAmount = pr.CostBasis * e.cfg.DefaultRiskPercent / 100
	}
	if hasTarget {
		pr.RewardAmount = math.Max(0, (target-price)*qty)
	} else {
		pr.RewardAmount = pr.CostBasis * e.cfg.DefaultRewardPercent / 100
	}
	if pr.MarketValue > 0 {
		pr.RiskPercent = pr.RiskAmount / pr.MarketValue * 100
	}
	if pr.RiskAmount > 0 {
		pr.RiskRewardRatio = pr.RewardAmount / pr.RiskAmount
	}

	pr.Volatility, pr.VolatilitySource = e.analyzer.PositionVolatility(pos.Symbol, analytics.RiskInput{Volatility: vols})
	if weightPct/100 > e.analyzer.Config().LiquidityThreshold {
		pr.LiquidityRisk = 1
	}

	pr.RiskScore = e.score(pr.RiskPercent, pr.Volatility, weightPct, pr.LiquidityRisk)
	pr.RiskLevel = e.level(pr.RiskScore)
	return pr
}

func (e *Engine) score(riskPct, vol, weightPct, liquidity float64) float64 {
	maxPos := e.cfg.MaxPositionPercent
	if maxPos <= 0 {
		maxPos = 20
	}
	return scoreRiskWeight*clamp01(riskPct/riskPercentCeiling) +
		scoreVolatilityWeight*clamp01(vol/volatilityCeiling) +
		scoreConcentrationWeight*clamp01(weightPct/maxPos) +
		scoreLiquidityWeight*clamp01(liquidity)
}

func (e *Engine) level(score float64) models.RiskLevel {
	switch {
	case score >= e.cfg.ExtremeThreshold:
		return models.RiskExtreme
	case score >= e.cfg.HighThreshold:
		return models.RiskHigh
	case score >= e.cfg.MediumThreshold:
		return models.RiskMedium
	}
	return models.RiskLow
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// applyPrices returns a copy of positions with current prices replaced by
// prices where known.
func applyPrices(positions []models.PortfolioPosition, prices map[string]float64) []models.PortfolioPosition {
	out := make([]models.PortfolioPosition, len(positions))
	copy(out, positions)
	for i := range out {
		if p, ok := prices[out[i].Symbol]; ok && validPrice(p) {
			out[i].CurrentPrice = p
		}
	}
	return out
}

// PortfolioRisk aggregates position risks at the given prices. VaR99 is
// reported as 1.5 x VaR95 and flagged as an approximation.
func (e *Engine) PortfolioRisk(positions []models.PortfolioPosition, prices map[string]float64) models.PortfolioRisk {
	positions = applyPrices(positions, prices)
	vols := e.volatilitySnapshot()

	pr := models.PortfolioRisk{
		SectorExposure:    make(map[string]float64),
		VaR99Approximated: true,
	}
	for _, p := range positions {
		if v := p.MarketValue(); v > 0 {
			pr.TotalValue += v
		}
	}

	z95 := math.Abs(pricing.NormInv(0.05))
	days := math.Sqrt(float64(e.analyzer.Config().TradingDays))
	var weightedScore float64

	for _, p := range positions {
		mv := p.MarketValue()
		if mv <= 0 {
			continue
		}
		weight := mv / pr.TotalValue * 100
		risk := e.positionRisk(p, weight, vols)

		pr.Positions = append(pr.Positions, risk)
		pr.TotalRisk += risk.RiskAmount
		pr.VaR95 += mv * z95 * risk.Volatility / days
		pr.MaxConcentration = math.Max(pr.MaxConcentration, weight)
		weightedScore += risk.RiskScore * weight / 100

		sector := p.Sector
		if sector == "" {
			sector = "unclassified"
		}
		pr.SectorExposure[sector] += weight
	}
	sort.SliceStable(pr.Positions, func(i, j int) bool {
		return pr.Positions[i].RiskScore > pr.Positions[j].RiskScore
	})

	pr.VaR99 = 1.5 * pr.VaR95
	pr.RiskBudget = pr.TotalValue * e.cfg.RiskBudgetPercent / 100
	if pr.TotalValue > 0 {
		pr.TotalRiskPercent = pr.TotalRisk / pr.TotalValue * 100
	}
	if e.cfg.RiskBudgetPercent > 0 {
		pr.RiskBudgetUtilization = pr.TotalRiskPercent / e.cfg.RiskBudgetPercent * 100
	}
	pr.RiskLevel = e.level(weightedScore)
	return pr
}
