package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"quantrisk/internal/analytics"
	"quantrisk/internal/models"
)

// ReportRequest holds the inputs of a risk report.
type ReportRequest struct {
	PortfolioID string
	Period      string
	Positions   []models.PortfolioPosition
	Prices      map[string]float64
	// History is the portfolio value series behind the VaR metrics.
	History []models.HistoryPoint
	// Equity is the account equity for the margin check. Zero uses the
	// portfolio value, i.e. an unlevered account.
	Equity float64
}

// GenerateReport composes a point-in-time risk snapshot.
func (e *Engine) GenerateReport(req ReportRequest) models.RiskReport {
	positions := applyPrices(req.Positions, req.Prices)
	pr := e.PortfolioRisk(positions, nil)
	metrics := e.analyzer.Risk(analytics.RiskInput{
		Positions:  positions,
		History:    req.History,
		Volatility: e.volatilitySnapshot(),
	})

	period := req.Period
	if period == "" {
		period = "daily"
	}

	report := models.RiskReport{
		ID:            uuid.NewString(),
		PortfolioID:   req.PortfolioID,
		Period:        period,
		GeneratedAt:   e.now(),
		PortfolioRisk: pr,
		PositionRisks: append([]models.PositionRisk(nil), pr.Positions...),
		Metrics:       metrics,
		Alerts:        e.alerts.Unacknowledged(),
	}
	report.Compliance = e.compliance(pr, req.Equity)
	report.Recommendations = e.recommendations(pr, metrics)

	e.logger.Info().
		Str("report_id", report.ID).
		Str("portfolio_id", req.PortfolioID).
		Str("risk_level", string(pr.RiskLevel)).
		Bool("compliant", report.Compliance.Compliant()).
		Msg("Risk report generated")
	return report
}

func (e *Engine) compliance(pr models.PortfolioRisk, equity float64) models.ComplianceStatus {
	c := models.ComplianceStatus{
		PositionLimits:   pr.MaxConcentration <= e.cfg.MaxPositionPercent,
		StopLossCoverage: true,
		SectorLimits:     true,
		RiskLevel:        pr.RiskLevel != models.RiskExtreme,
	}
	for _, p := range pr.Positions {
		if !p.HasStopLoss {
			c.StopLossCoverage = false
			break
		}
	}
	for _, pct := range pr.SectorExposure {
		if pct >= e.cfg.MaxSectorPercent {
			c.SectorLimits = false
			break
		}
	}

	// Simplified margin check: gross exposure within the leverage limit.
	if equity <= 0 {
		equity = pr.TotalValue
	}
	c.MarginCheck = pr.TotalValue == 0 || pr.TotalValue <= equity*e.cfg.MaxLeverage
	return c
}

func (e *Engine) recommendations(pr models.PortfolioRisk, m models.RiskMetrics) []string {
	var recs []string

	if pr.RiskBudgetUtilization > 100 {
		recs = append(recs, fmt.Sprintf(
			"Total risk is %.1f%% of the risk budget; reduce position sizes or tighten stop-losses",
			pr.RiskBudgetUtilization))
	}

	var unprotected []string
	for _, p := range pr.Positions {
		if p.Concentration > e.cfg.MaxPositionPercent {
			recs = append(recs, fmt.Sprintf(
				"Reduce %s: %.1f%% of portfolio exceeds the %.0f%% position limit",
				p.Symbol, p.Concentration, e.cfg.MaxPositionPercent))
		}
		if p.RiskLevel == models.RiskHigh || p.RiskLevel == models.RiskExtreme {
			recs = append(recs, fmt.Sprintf("Review %s: risk level is %s", p.Symbol, p.RiskLevel))
		}
		if !p.HasStopLoss {
			unprotected = append(unprotected, p.Symbol)
		}
	}
	if len(unprotected) > 0 {
		sort.Strings(unprotected)
		recs = append(recs, "Add stop-loss orders for "+strings.Join(unprotected, ", "))
	}

	sectors := make([]string, 0, len(pr.SectorExposure))
	for s := range pr.SectorExposure {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)
	for _, s := range sectors {
		if pct := pr.SectorExposure[s]; pct >= e.cfg.MaxSectorPercent {
			recs = append(recs, fmt.Sprintf(
				"Diversify out of %s: %.1f%% sector exposure exceeds the %.0f%% limit",
				s, pct, e.cfg.MaxSectorPercent))
		}
	}

	if len(pr.Positions) > 1 && m.ConcentrationRisk > 0.25 {
		recs = append(recs, fmt.Sprintf("Portfolio is concentrated (Herfindahl %.2f); consider adding positions", m.ConcentrationRisk))
	}
	if m.Observations == 0 && len(pr.Positions) > 0 {
		recs = append(recs, "Supply portfolio value history to compute historical VaR")
	}
	return recs
}
