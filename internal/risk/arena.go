package risk

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"quantrisk/internal/models"
)

const (
	stateActive int32 = iota
	stateTriggered
	stateCancelled
)

func statusOf(state int32) models.OrderStatus {
	switch state {
	case stateTriggered:
		return models.OrderTriggered
	case stateCancelled:
		return models.OrderCancelled
	}
	return models.OrderActive
}

// orderEntry is one slot of the order arena. The status moves out of
// active exactly once through a compare-and-set; mu guards the order fields.
type orderEntry struct {
	id     string
	symbol string
	kind   models.OrderKind
	state  atomic.Int32

	mu   sync.Mutex
	stop *models.StopLossOrder
	take *models.TakeProfitOrder
}

func newStopEntry(o *models.StopLossOrder) *orderEntry {
	return &orderEntry{id: o.ID, symbol: o.Symbol, kind: models.OrderKindStopLoss, stop: o}
}

func newTakeEntry(o *models.TakeProfitOrder) *orderEntry {
	return &orderEntry{id: o.ID, symbol: o.Symbol, kind: models.OrderKindTakeProfit, take: o}
}

func (o *orderEntry) active() bool {
	return o.state.Load() == stateActive
}

// finish moves the entry from active to the given terminal state. It
// returns false when another writer got there first. Callers hold o.mu.
func (o *orderEntry) finish(to int32, at time.Time, price float64) bool {
	if !o.state.CompareAndSwap(stateActive, to) {
		return false
	}
	status := statusOf(to)
	switch {
	case o.stop != nil:
		o.stop.Status = status
		o.stop.UpdatedAt = at
		if to == stateTriggered {
			o.stop.TriggeredAt = &at
			o.stop.TriggeredPrice = price
		} else {
			o.stop.CancelledAt = &at
		}
	case o.take != nil:
		o.take.Status = status
		o.take.UpdatedAt = at
		if to == stateTriggered {
			o.take.TriggeredAt = &at
			o.take.TriggeredPrice = price
		} else {
			o.take.CancelledAt = &at
		}
	}
	return true
}

func (o *orderEntry) stopSnapshot() models.StopLossOrder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyStop(o.stop)
}

func (o *orderEntry) takeSnapshot() models.TakeProfitOrder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyTake(o.take)
}

func copyStop(o *models.StopLossOrder) models.StopLossOrder {
	c := *o
	if o.TriggeredAt != nil {
		t := *o.TriggeredAt
		c.TriggeredAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return c
}

func copyTake(o *models.TakeProfitOrder) models.TakeProfitOrder {
	c := *o
	if o.TriggeredAt != nil {
		t := *o.TriggeredAt
		c.TriggeredAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return c
}

// arena indexes every order by ID and active orders by symbol.
type arena struct {
	mu       sync.RWMutex
	byID     map[string]*orderEntry
	bySymbol map[string][]*orderEntry
	seq      []*orderEntry
}

func newArena() *arena {
	return &arena{
		byID:     make(map[string]*orderEntry),
		bySymbol: make(map[string][]*orderEntry),
	}
}

func (a *arena) add(o *orderEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.byID[o.id]; exists {
		return
	}
	a.byID[o.id] = o
	a.bySymbol[o.symbol] = append(a.bySymbol[o.symbol], o)
	a.seq = append(a.seq, o)
}

func (a *arena) get(id string) (*orderEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.byID[id]
	return o, ok
}

// forSymbol returns the active entries of one kind for a symbol.
func (a *arena) forSymbol(symbol string, kind models.OrderKind) []*orderEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := a.bySymbol[symbol]
	out := make([]*orderEntry, 0, len(entries))
	for _, o := range entries {
		if o.kind == kind && o.active() {
			out = append(out, o)
		}
	}
	return out
}

// prune drops terminal entries from the symbol index. They stay reachable
// by ID.
func (a *arena) prune(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := a.bySymbol[symbol]
	kept := entries[:0]
	for _, o := range entries {
		if o.active() {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	if len(kept) == 0 {
		delete(a.bySymbol, symbol)
		return
	}
	a.bySymbol[symbol] = kept
}

// all returns every entry in creation order.
func (a *arena) all() []*orderEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*orderEntry(nil), a.seq...)
}

// symbols returns the symbols with at least one active order.
func (a *arena) symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.bySymbol))
	for sym, entries := range a.bySymbol {
		for _, o := range entries {
			if o.active() {
				out = append(out, sym)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
