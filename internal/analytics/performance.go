package analytics

import (
	"math"

	"github.com/montanaflynn/stats"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
)

// PerformanceMetrics derives return, risk-adjusted and trade statistics from
// a chronological value series. Benchmark statistics are computed when
// benchmark is non-empty. Ratios are annualized with the configured number
// of trading days.
func (a *Analyzer) PerformanceMetrics(history []models.HistoryPoint, txns []models.Transaction, benchmark []models.HistoryPoint) (models.PerformanceMetrics, error) {
	var m models.PerformanceMetrics

	if len(history) < 2 {
		return m, apperrors.Wrap(apperrors.ErrInsufficientData, "performance needs at least two history points")
	}
	first, last := history[0].Value, history[len(history)-1].Value
	if first <= 0 {
		return m, apperrors.Wrapf(apperrors.ErrInsufficientData, "first history value %v is not positive", first)
	}

	returns := Returns(history)
	m.Periods = len(returns)
	days := float64(a.cfg.TradingDays)

	m.TotalReturn = last/first - 1
	if m.Periods > 0 {
		if growth := 1 + m.TotalReturn; growth > 0 {
			m.AnnualizedReturn = math.Pow(growth, days/float64(m.Periods)) - 1
		} else {
			m.AnnualizedReturn = -1
		}
	}

	mean, err := stats.Mean(returns)
	if err != nil {
		mean = 0
	}
	if sd, err := stats.StandardDeviationSample(returns); err == nil && !math.IsNaN(sd) {
		m.Volatility = sd * math.Sqrt(days)
	}

	excess := mean*days - a.cfg.RiskFreeRate
	if m.Volatility > 0 {
		m.SharpeRatio = excess / m.Volatility
	}
	if dd := downsideDeviation(returns, a.cfg.RiskFreeRate/days) * math.Sqrt(days); dd > 0 {
		m.SortinoRatio = excess / dd
	}

	m.MaxDrawdown = MaxDrawdown(history)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	tradeStats(&m, MatchTrades(txns, a.policy))

	if len(benchmark) >= 2 {
		bc, err := a.compare(returns, Returns(benchmark))
		if err != nil {
			return m, err
		}
		m.Benchmark = bc
	}

	return m, nil
}

// downsideDeviation is the root mean square shortfall of the returns below
// target, taken over the sub-target returns only.
func downsideDeviation(returns []float64, target float64) float64 {
	var sum float64
	var n int
	for _, r := range returns {
		if r < target {
			d := r - target
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// compare computes benchmark-relative statistics over the most recent
// periods both series cover.
func (a *Analyzer) compare(port, bench []float64) (*models.BenchmarkComparison, error) {
	n := len(port)
	if len(bench) < n {
		n = len(bench)
	}
	if n < 2 {
		return nil, apperrors.Wrap(apperrors.ErrInsufficientData, "benchmark comparison needs at least two overlapping returns")
	}
	port = port[len(port)-n:]
	bench = bench[len(bench)-n:]
	days := float64(a.cfg.TradingDays)
	rf := a.cfg.RiskFreeRate

	bc := &models.BenchmarkComparison{}

	cov, err := stats.Covariance(port, bench)
	if err != nil {
		return nil, apperrors.Wrap(err, "benchmark covariance")
	}
	variance, err := stats.SampleVariance(bench)
	if err != nil {
		return nil, apperrors.Wrap(err, "benchmark variance")
	}
	if variance > 0 {
		bc.Beta = cov / variance
	}

	meanP, _ := stats.Mean(port)
	meanB, _ := stats.Mean(bench)
	bc.Alpha = meanP*days - (rf + bc.Beta*(meanB*days-rf))

	active := make([]float64, n)
	for i := range active {
		active[i] = port[i] - bench[i]
	}
	if sd, err := stats.StandardDeviationSample(active); err == nil && sd > 0 {
		bc.TrackingError = sd * math.Sqrt(days)
		meanActive, _ := stats.Mean(active)
		bc.InformationRatio = meanActive * days / bc.TrackingError
	}

	bc.UpCapture = capture(port, bench, func(b float64) bool { return b > 0 })
	bc.DownCapture = capture(port, bench, func(b float64) bool { return b < 0 })

	return bc, nil
}

// capture is the mean portfolio return over the selected benchmark periods
// divided by the mean benchmark return over the same periods.
func capture(port, bench []float64, keep func(float64) bool) float64 {
	var sp, sb []float64
	for i, b := range bench {
		if keep(b) {
			sp = append(sp, port[i])
			sb = append(sb, b)
		}
	}
	if len(sb) == 0 {
		return 0
	}
	mp, _ := stats.Mean(sp)
	mb, _ := stats.Mean(sb)
	if mb == 0 {
		return 0
	}
	return mp / mb
}
