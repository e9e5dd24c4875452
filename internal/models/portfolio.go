package models

import "time"

// PortfolioPosition is a read-only snapshot of a position owned by the
// portfolio accounting service.
type PortfolioPosition struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AverageCost  float64 `json:"average_cost"`
	CurrentPrice float64 `json:"current_price"`
	// PreviousClose is optional; zero means no same-day reference price is known.
	PreviousClose float64 `json:"previous_close,omitempty"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Sector        string  `json:"sector"`
	// Weight is the position's share of portfolio value in percent.
	Weight float64 `json:"weight"`
}

// MarketValue returns quantity times current price.
func (p PortfolioPosition) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// CostBasis returns quantity times average cost.
func (p PortfolioPosition) CostBasis() float64 {
	return p.Quantity * p.AverageCost
}

// UnrealizedPnL returns market value minus cost basis.
func (p PortfolioPosition) UnrealizedPnL() float64 {
	return p.MarketValue() - p.CostBasis()
}

// HistoryPoint is one observation of total portfolio value.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Transaction represents an executed buy or sell.
type Transaction struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fees      float64   `json:"fees"`
	Timestamp time.Time `json:"timestamp"`
}

// PortfolioSummary aggregates current position values.
type PortfolioSummary struct {
	TotalValue           float64 `json:"total_value"`
	TotalCost            float64 `json:"total_cost"`
	UnrealizedPnL        float64 `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64 `json:"unrealized_pnl_percent"`
	RealizedPnL          float64 `json:"realized_pnl"`
	// DailyPnL is only meaningful when DailyPnLAvailable is true.
	DailyPnL          float64            `json:"daily_pnl"`
	DailyPnLPercent   float64            `json:"daily_pnl_percent"`
	DailyPnLAvailable bool               `json:"daily_pnl_available"`
	PositionCount     int                `json:"position_count"`
	SectorAllocation  map[string]float64 `json:"sector_allocation"`
}

// PerformanceMetrics holds return and trade statistics.
// Return and drawdown figures are fractions (0.12 == 12%).
type PerformanceMetrics struct {
	Periods          int     `json:"periods"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`

	TotalTrades          int           `json:"total_trades"`
	WinningTrades        int           `json:"winning_trades"`
	LosingTrades         int           `json:"losing_trades"`
	WinRate              float64       `json:"win_rate"`
	ProfitFactor         float64       `json:"profit_factor"`
	AverageWin           float64       `json:"average_win"`
	AverageLoss          float64       `json:"average_loss"`
	LargestWin           float64       `json:"largest_win"`
	LargestLoss          float64       `json:"largest_loss"`
	AverageHoldingPeriod time.Duration `json:"average_holding_period"`

	Benchmark *BenchmarkComparison `json:"benchmark,omitempty"`
}

// BenchmarkComparison holds statistics relative to a benchmark series.
type BenchmarkComparison struct {
	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	InformationRatio float64 `json:"information_ratio"`
	TrackingError    float64 `json:"tracking_error"`
	UpCapture        float64 `json:"up_capture"`
	DownCapture      float64 `json:"down_capture"`
}

// VolatilitySource describes where a volatility figure came from.
type VolatilitySource string

const (
	VolatilityHistorical VolatilitySource = "historical"
	VolatilitySupplied   VolatilitySource = "supplied"
	VolatilityAssumed    VolatilitySource = "assumed"
)

// PositionVaR is the value at risk attributed to a single position.
type PositionVaR struct {
	Symbol           string           `json:"symbol"`
	Value            float64          `json:"value"`
	Weight           float64          `json:"weight"`
	Volatility       float64          `json:"volatility"`
	VolatilitySource VolatilitySource `json:"volatility_source"`
	VaR              float64          `json:"var"`
}

// RiskMetrics holds portfolio risk statistics.
type RiskMetrics struct {
	PortfolioValue float64 `json:"portfolio_value"`
	Confidence     float64 `json:"confidence"`
	// Observations is the number of portfolio returns behind the VaR figures.
	// Zero means no history was supplied and portfolio VaR is not computed.
	Observations int `json:"observations"`
	// DailyVolatility is the standard deviation of period returns.
	DailyVolatility   float64       `json:"daily_volatility"`
	VaR               float64       `json:"var"`
	VaR99             float64       `json:"var_99"`
	ExpectedShortfall float64       `json:"expected_shortfall"`
	ConcentrationRisk float64       `json:"concentration_risk"`
	LiquidityRisk     float64       `json:"liquidity_risk"`
	Positions         []PositionVaR `json:"positions"`
}
