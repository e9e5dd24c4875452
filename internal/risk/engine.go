// Package risk implements the protective order state machine, the rule
// engine, the alert log and risk reporting.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quantrisk/internal/analytics"
	"quantrisk/internal/config"
	"quantrisk/internal/logging"
	"quantrisk/internal/metrics"
	"quantrisk/internal/models"
)

// Store persists orders, rules and alerts. Positions are never stored here.
type Store interface {
	SaveStopLoss(ctx context.Context, order *models.StopLossOrder) error
	SaveTakeProfit(ctx context.Context, order *models.TakeProfitOrder) error
	SaveRule(ctx context.Context, rule *models.RiskRule) error
	DeleteRule(ctx context.Context, id string) error
	SaveAlert(ctx context.Context, alert *models.RiskAlert) error
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) error

	ActiveStopLosses(ctx context.Context) ([]models.StopLossOrder, error)
	ActiveTakeProfits(ctx context.Context) ([]models.TakeProfitOrder, error)
	Rules(ctx context.Context) ([]models.RiskRule, error)
}

// Notifier publishes alerts and order events to downstream consumers.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert models.RiskAlert) error
	NotifyOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// Feed is the price feed the engine asks for subscriptions.
type Feed interface {
	Watch(symbols ...string) error
}

// PositionSource supplies current positions for periodic rule evaluation.
type PositionSource interface {
	Positions(ctx context.Context) ([]models.PortfolioPosition, error)
}

// PositionSourceFunc adapts a function to PositionSource.
type PositionSourceFunc func(ctx context.Context) ([]models.PortfolioPosition, error)

// Positions implements PositionSource.
func (f PositionSourceFunc) Positions(ctx context.Context) ([]models.PortfolioPosition, error) {
	return f(ctx)
}

// Engine owns protective orders, risk rules and the alert log.
type Engine struct {
	cfg      config.RiskConfig
	analyzer *analytics.Analyzer
	logger   zerolog.Logger
	store    Store
	notifier Notifier
	feed     Feed
	metrics  *metrics.Metrics
	now      func() time.Time

	orders *arena
	alerts *AlertLog
	rules  *ruleBook

	events      *fanout[models.OrderEvent]
	alertStream *fanout[models.RiskAlert]

	lastTickMu sync.Mutex
	lastTick   map[string]time.Time
	// tickLocks serializes OnTick per symbol: symbol -> *sync.Mutex.
	tickLocks sync.Map

	volMu        sync.RWMutex
	volatilities map[string]float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists orders, rules and alerts.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithNotifier publishes alerts and order events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithFeed requests price subscriptions for new orders.
func WithFeed(f Feed) Option {
	return func(e *Engine) { e.feed = f }
}

// WithMetrics records engine activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAnalyzer sets the analytics used for volatility and VaR figures.
func WithAnalyzer(a *analytics.Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a risk engine.
func NewEngine(cfg config.RiskConfig, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		analyzer:     analytics.Default(),
		logger:       logging.WithComponent(logger, "risk"),
		now:          time.Now,
		orders:       newArena(),
		alerts:       NewAlertLog(),
		lastTick:     make(map[string]time.Time),
		volatilities: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(e)
	}

	buffer := cfg.EventBufferSize
	if buffer <= 0 {
		buffer = 256
	}
	e.events = newFanout[models.OrderEvent](buffer, func() { e.metrics.Dropped("events") })
	e.alertStream = newFanout[models.RiskAlert](buffer, func() { e.metrics.Dropped("alerts") })
	e.rules = newRuleBook()

	return e
}

// Restore loads active orders and rules from the store.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	stops, err := e.store.ActiveStopLosses(ctx)
	if err != nil {
		return err
	}
	takes, err := e.store.ActiveTakeProfits(ctx)
	if err != nil {
		return err
	}
	rules, err := e.store.Rules(ctx)
	if err != nil {
		return err
	}

	symbols := make(map[string]struct{})
	for i := range stops {
		if stops[i].Status != models.OrderActive {
			continue
		}
		o := stops[i]
		e.orders.add(newStopEntry(&o))
		symbols[o.Symbol] = struct{}{}
	}
	for i := range takes {
		if takes[i].Status != models.OrderActive {
			continue
		}
		o := takes[i]
		e.orders.add(newTakeEntry(&o))
		symbols[o.Symbol] = struct{}{}
	}
	for _, r := range rules {
		e.rules.put(r)
	}

	for sym := range symbols {
		e.watch(sym)
	}

	e.logger.Info().
		Int("stop_losses", len(stops)).
		Int("take_profits", len(takes)).
		Int("rules", len(rules)).
		Msg("Restored risk state")
	return nil
}

// SetVolatility records an externally supplied annualized volatility.
func (e *Engine) SetVolatility(symbol string, vol float64) {
	e.volMu.Lock()
	defer e.volMu.Unlock()
	if vol <= 0 {
		delete(e.volatilities, symbol)
		return
	}
	e.volatilities[symbol] = vol
}

func (e *Engine) volatilitySnapshot() map[string]float64 {
	e.volMu.RLock()
	defer e.volMu.RUnlock()
	out := make(map[string]float64, len(e.volatilities))
	for k, v := range e.volatilities {
		out[k] = v
	}
	return out
}

// SubscribeEvents returns a channel of order events and a function that
// ends the subscription. Slow subscribers miss events rather than block.
func (e *Engine) SubscribeEvents() (<-chan models.OrderEvent, func()) {
	return e.events.subscribe()
}

// SubscribeAlerts returns a channel of raised alerts.
func (e *Engine) SubscribeAlerts() (<-chan models.RiskAlert, func()) {
	return e.alertStream.subscribe()
}

// Alerts returns the alert log.
func (e *Engine) Alerts() *AlertLog {
	return e.alerts
}

func (e *Engine) watch(symbol string) {
	if e.feed == nil {
		return
	}
	if err := e.feed.Watch(symbol); err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price subscription failed")
	}
}

// persist runs a store write and logs failures. The in-memory state stays
// authoritative.
func (e *Engine) persist(what string, fn func(ctx context.Context, s Store) error) {
	if e.store == nil {
		return
	}
	if err := fn(context.Background(), e.store); err != nil {
		e.logger.Warn().Err(err).Str("record", what).Msg("Failed to persist")
	}
}
