package models

import "time"

// OrderStatus is the lifecycle state of a protective order.
type OrderStatus string

const (
	OrderActive    OrderStatus = "active"
	OrderTriggered OrderStatus = "triggered"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderTriggered || s == OrderCancelled
}

// OrderKind distinguishes stop-loss from take-profit orders.
type OrderKind string

const (
	OrderKindStopLoss   OrderKind = "stop_loss"
	OrderKindTakeProfit OrderKind = "take_profit"
)

// StopLossOrder is a snapshot of a stop-loss order.
type StopLossOrder struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Quantity        float64     `json:"quantity"`
	TriggerPrice    float64     `json:"trigger_price"`
	Trailing        bool        `json:"trailing"`
	TrailingPercent float64     `json:"trailing_percent,omitempty"`
	HighWaterMark   float64     `json:"high_water_mark,omitempty"`
	Status          OrderStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	TriggeredAt     *time.Time  `json:"triggered_at,omitempty"`
	TriggeredPrice  float64     `json:"triggered_price,omitempty"`
	CancelledAt     *time.Time  `json:"cancelled_at,omitempty"`
}

// TakeProfitOrder is a snapshot of a take-profit order.
type TakeProfitOrder struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Quantity       float64     `json:"quantity"`
	TargetPrice    float64     `json:"target_price"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	TriggeredAt    *time.Time  `json:"triggered_at,omitempty"`
	TriggeredPrice float64     `json:"triggered_price,omitempty"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
}

// OrderEventType identifies an order lifecycle event.
type OrderEventType string

const (
	EventOrderTriggered OrderEventType = "order_triggered"
	EventOrderCancelled OrderEventType = "order_cancelled"
)

// OrderEvent is emitted when an order leaves the active state.
type OrderEvent struct {
	Type      OrderEventType `json:"type"`
	Kind      OrderKind      `json:"kind"`
	OrderID   string         `json:"order_id"`
	Symbol    string         `json:"symbol"`
	Quantity  float64        `json:"quantity"`
	Price     float64        `json:"price"`
	Level     float64        `json:"level"` // trigger or target price
	Timestamp time.Time      `json:"timestamp"`
}

// RuleType identifies the evaluation logic of a risk rule.
type RuleType string

const (
	RulePositionSize  RuleType = "position_size"
	RuleStopLoss      RuleType = "stop_loss"
	RuleDrawdown      RuleType = "drawdown"
	RuleConcentration RuleType = "concentration"
	RuleVariance      RuleType = "variance"
)

// RuleAction is what a matching rule asks for.
type RuleAction string

const (
	RuleActionAlert    RuleAction = "alert"
	RuleActionRestrict RuleAction = "restrict"
)

// RiskRule is a configured risk check.
type RiskRule struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Type          RuleType           `json:"type"`
	Params        map[string]float64 `json:"params"`
	Priority      int                `json:"priority"`
	Action        RuleAction         `json:"action"`
	Enabled       bool               `json:"enabled"`
	TriggerCount  int                `json:"trigger_count"`
	LastTriggered *time.Time         `json:"last_triggered,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// AlertType categorises risk alerts.
type AlertType string

const (
	AlertStopLossTriggered   AlertType = "stop_loss_triggered"
	AlertTakeProfitTriggered AlertType = "take_profit_triggered"
	AlertPositionSize        AlertType = "position_size"
	AlertUnrealizedLoss      AlertType = "unrealized_loss"
	AlertConcentration       AlertType = "concentration"
)

// Severity of a risk alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// RiskAlert is an entry of the append-only alert log.
type RiskAlert struct {
	ID             string     `json:"id"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	Symbol         string     `json:"symbol,omitempty"`
	Message        string     `json:"message"`
	RuleID         string     `json:"rule_id,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// RiskLevel is a coarse risk classification.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// PositionRisk describes the risk of one position.
type PositionRisk struct {
	Symbol          string  `json:"symbol"`
	Sector          string  `json:"sector"`
	Quantity        float64 `json:"quantity"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	CostBasis       float64 `json:"cost_basis"`
	HasStopLoss     bool    `json:"has_stop_loss"`
	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	HasTakeProfit   bool    `json:"has_take_profit"`
	TakeProfitPrice float64 `json:"take_profit_price,omitempty"`
	RiskAmount      float64 `json:"risk_amount"`
	RewardAmount    float64 `json:"reward_amount"`
	RiskPercent     float64 `json:"risk_percent"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	// Volatility is annualised; VolatilitySource says whether it was supplied or assumed.
	Volatility       float64          `json:"volatility"`
	VolatilitySource VolatilitySource `json:"volatility_source"`
	// Concentration is the share of portfolio value in percent.
	Concentration float64   `json:"concentration"`
	LiquidityRisk float64   `json:"liquidity_risk"`
	RiskScore     float64   `json:"risk_score"`
	RiskLevel     RiskLevel `json:"risk_level"`
}

// PortfolioRisk aggregates position risks.
type PortfolioRisk struct {
	TotalValue       float64 `json:"total_value"`
	TotalRisk        float64 `json:"total_risk"`
	TotalRiskPercent float64 `json:"total_risk_percent"`
	VaR95            float64 `json:"var_95"`
	// VaR99 is 1.5 x VaR95, not a recomputed quantile.
	VaR99                 float64            `json:"var_99"`
	VaR99Approximated     bool               `json:"var_99_approximated"`
	RiskBudget            float64            `json:"risk_budget"`
	RiskBudgetUtilization float64            `json:"risk_budget_utilization"`
	SectorExposure        map[string]float64 `json:"sector_exposure"`   // percent
	MaxConcentration      float64            `json:"max_concentration"` // percent
	RiskLevel             RiskLevel          `json:"risk_level"`
	Positions             []PositionRisk     `json:"positions"`
}

// ComplianceStatus holds boolean compliance checks of a report.
type ComplianceStatus struct {
	PositionLimits   bool `json:"position_limits"`
	StopLossCoverage bool `json:"stop_loss_coverage"`
	SectorLimits     bool `json:"sector_limits"`
	MarginCheck      bool `json:"margin_check"`
	RiskLevel        bool `json:"risk_level"`
}

// Compliant reports whether every check passed.
func (c ComplianceStatus) Compliant() bool {
	return c.PositionLimits && c.StopLossCoverage && c.SectorLimits && c.MarginCheck && c.RiskLevel
}

// RiskReport is a point-in-time risk snapshot.
type RiskReport struct {
	ID              string           `json:"id"`
	PortfolioID     string           `json:"portfolio_id"`
	Period          string           `json:"period"`
	GeneratedAt     time.Time        `json:"generated_at"`
	PortfolioRisk   PortfolioRisk    `json:"portfolio_risk"`
	PositionRisks   []PositionRisk   `json:"position_risks"`
	Metrics         RiskMetrics      `json:"metrics"`
	Alerts          []RiskAlert      `json:"alerts"`
	Recommendations []string         `json:"recommendations"`
	Compliance      ComplianceStatus `json:"compliance"`
}
