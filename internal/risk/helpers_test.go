package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quantrisk/internal/config"
	"quantrisk/internal/models"
)

var base = time.Date(2026, 4, 1, 9, 15, 0, 0, time.UTC)

// stepClock advances by one millisecond on every read.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock { return &stepClock{t: base} }

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestEngine(opts ...Option) *Engine {
	clock := newStepClock()
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewEngine(config.Default().Risk, zerolog.Nop(), opts...)
}

type memStore struct {
	mu     sync.Mutex
	stops  map[string]models.StopLossOrder
	takes  map[string]models.TakeProfitOrder
	rules  map[string]models.RiskRule
	alerts map[string]models.RiskAlert
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{
		stops:  make(map[string]models.StopLossOrder),
		takes:  make(map[string]models.TakeProfitOrder),
		rules:  make(map[string]models.RiskRule),
		alerts: make(map[string]models.RiskAlert),
	}
}

var errStoreDown = errors.New("store down")

func (s *memStore) SaveStopLoss(_ context.Context, o *models.StopLossOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	s.stops[o.ID] = *o
	return nil
}

func (s *memStore) SaveTakeProfit(_ context.Context, o *models.TakeProfitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	s.takes[o.ID] = *o
	return nil
}

func (s *memStore) SaveRule(_ context.Context, r *models.RiskRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = copyRule(*r)
	return nil
}

func (s *memStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

func (s *memStore) SaveAlert(_ context.Context, a *models.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = *a
	return nil
}

func (s *memStore) AcknowledgeAlert(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alerts[id]
	a.Acknowledged = true
	a.AcknowledgedAt = &at
	s.alerts[id] = a
	return nil
}

func (s *memStore) ActiveStopLosses(context.Context) ([]models.StopLossOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StopLossOrder
	for _, o := range s.stops {
		if o.Status == models.OrderActive {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) ActiveTakeProfits(context.Context) ([]models.TakeProfitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TakeProfitOrder
	for _, o := range s.takes {
		if o.Status == models.OrderActive {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) Rules(context.Context) ([]models.RiskRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RiskRule
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

type recordingFeed struct {
	mu      sync.Mutex
	symbols []string
}

func (f *recordingFeed) Watch(symbols ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append(f.symbols, symbols...)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.RiskAlert
	events []models.OrderEvent
}

func (n *recordingNotifier) NotifyAlert(_ context.Context, a models.RiskAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) NotifyOrderEvent(_ context.Context, ev models.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

// gatedStore blocks the first stop-loss save after arm until release.
type gatedStore struct {
	*memStore
	armed   chan struct{}
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		memStore: newMemStore(),
		armed:    make(chan struct{}, 1),
		entered:  make(chan struct{}),
		gate:     make(chan struct{}),
	}
}

func (s *gatedStore) arm()     { s.armed <- struct{}{} }
func (s *gatedStore) release() { close(s.gate) }

func (s *gatedStore) SaveStopLoss(ctx context.Context, o *models.StopLossOrder) error {
	select {
	case <-s.armed:
		close(s.entered)
		<-s.gate
	default:
	}
	return s.memStore.SaveStopLoss(ctx, o)
}
