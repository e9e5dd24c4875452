package analytics

import (
	"math"
	"sort"
	"time"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
)

// MatchingPolicy selects how buys are paired with sells for trade statistics.
type MatchingPolicy string

const (
	// MatchFirstAvailable pairs each buy with the next later unused sell of
	// the same symbol. Overlapping lots are not split.
	MatchFirstAvailable MatchingPolicy = "first_available"
	// MatchFIFO consumes open lots oldest first and splits partial fills.
	MatchFIFO MatchingPolicy = "fifo"
)

// ParseMatchingPolicy parses a configured policy name. Empty selects
// first-available matching.
func ParseMatchingPolicy(s string) (MatchingPolicy, error) {
	switch MatchingPolicy(s) {
	case "", MatchFirstAvailable:
		return MatchFirstAvailable, nil
	case MatchFIFO:
		return MatchFIFO, nil
	}
	return "", apperrors.NewValidationError("trade_matching", s, "must be first_available or fifo")
}

// RoundTrip is a matched entry and exit.
type RoundTrip struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Opened     time.Time
	Closed     time.Time
}

// HoldingPeriod returns how long the position was held.
func (r RoundTrip) HoldingPeriod() time.Duration {
	return r.Closed.Sub(r.Opened)
}

// MatchTrades pairs buys with sells according to policy.
func MatchTrades(txns []models.Transaction, policy MatchingPolicy) []RoundTrip {
	sorted := append([]models.Transaction(nil), txns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if policy == MatchFIFO {
		return matchFIFO(sorted)
	}
	return matchFirstAvailable(sorted)
}

func matchFirstAvailable(txns []models.Transaction) []RoundTrip {
	used := make([]bool, len(txns))
	var trips []RoundTrip

	for i, buy := range txns {
		if buy.Side != models.OrderSideBuy {
			continue
		}
		for j := i + 1; j < len(txns); j++ {
			sell := txns[j]
			if used[j] || sell.Side != models.OrderSideSell || sell.Symbol != buy.Symbol {
				continue
			}
			if !sell.Timestamp.After(buy.Timestamp) {
				continue
			}
			used[j] = true
			qty := math.Min(buy.Quantity, sell.Quantity)
			trips = append(trips, RoundTrip{
				Symbol:     buy.Symbol,
				Quantity:   qty,
				EntryPrice: buy.Price,
				ExitPrice:  sell.Price,
				PnL:        (sell.Price-buy.Price)*qty - buy.Fees - sell.Fees,
				Opened:     buy.Timestamp,
				Closed:     sell.Timestamp,
			})
			break
		}
	}
	return trips
}

type lot struct {
	qty   float64
	price float64
	fees  float64 // remaining entry fees
	at    time.Time
}

func matchFIFO(txns []models.Transaction) []RoundTrip {
	open := make(map[string][]lot)
	var trips []RoundTrip

	for _, tx := range txns {
		if tx.Quantity <= 0 {
			continue
		}
		if tx.Side == models.OrderSideBuy {
			open[tx.Symbol] = append(open[tx.Symbol], lot{qty: tx.Quantity, price: tx.Price, fees: tx.Fees, at: tx.Timestamp})
			continue
		}

		remaining := tx.Quantity
		lots := open[tx.Symbol]
		for remaining > 0 && len(lots) > 0 {
			l := &lots[0]
			qty := math.Min(remaining, l.qty)
			entryFees := l.fees * qty / l.qty
			exitFees := tx.Fees * qty / tx.Quantity

			trips = append(trips, RoundTrip{
				Symbol:     tx.Symbol,
				Quantity:   qty,
				EntryPrice: l.price,
				ExitPrice:  tx.Price,
				PnL:        (tx.Price-l.price)*qty - entryFees - exitFees,
				Opened:     l.at,
				Closed:     tx.Timestamp,
			})

			l.fees -= entryFees
			l.qty -= qty
			remaining -= qty
			if l.qty <= 0 {
				lots = lots[1:]
			}
		}
		open[tx.Symbol] = lots
	}
	return trips
}

// tradeStats fills the trade fields of m from matched round trips.
func tradeStats(m *models.PerformanceMetrics, trips []RoundTrip) {
	m.TotalTrades = len(trips)
	if len(trips) == 0 {
		return
	}

	var grossWin, grossLoss float64
	var held time.Duration
	for _, t := range trips {
		held += t.HoldingPeriod()
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossWin += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += t.PnL
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
	}
	// Undefined without losses; left at zero.
	if grossLoss < 0 {
		m.ProfitFactor = grossWin / math.Abs(grossLoss)
	}
	m.AverageHoldingPeriod = held / time.Duration(len(trips))
}
