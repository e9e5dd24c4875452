package risk

import (
	"sync"

	"quantrisk/internal/models"
)

// OnTick applies a price update: trailing stops first, then stop-loss and
// take-profit checks. Ticks older than the last applied tick for the
// symbol are ignored. Ticks for one symbol are applied one at a time.
func (e *Engine) OnTick(tick models.Tick) {
	mu := e.tickLock(tick.Symbol)
	mu.Lock()
	defer mu.Unlock()

	if !e.admit(tick) {
		e.metrics.TickProcessed("stale")
		e.logger.Debug().
			Str("symbol", tick.Symbol).
			Time("timestamp", tick.Timestamp).
			Msg("Ignoring stale tick")
		return
	}
	e.metrics.TickProcessed("applied")

	e.UpdateTrailing(tick.Symbol, tick.LTP)
	e.CheckStopLoss(tick.Symbol, tick.LTP)
	e.CheckTakeProfit(tick.Symbol, tick.LTP)
}

func (e *Engine) tickLock(symbol string) *sync.Mutex {
	if mu, ok := e.tickLocks.Load(symbol); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := e.tickLocks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Symbols returns the symbols the engine needs ticks for.
func (e *Engine) Symbols() []string {
	return e.WatchedSymbols()
}

// admit records the tick time and reports whether the tick is current.
// Ticks without a timestamp are always admitted.
func (e *Engine) admit(tick models.Tick) bool {
	if tick.Timestamp.IsZero() {
		return true
	}
	e.lastTickMu.Lock()
	defer e.lastTickMu.Unlock()

	if last, ok := e.lastTick[tick.Symbol]; ok && tick.Timestamp.Before(last) {
		return false
	}
	e.lastTick[tick.Symbol] = tick.Timestamp
	return true
}
