// Package stream distributes price ticks to subscribers and consumers.
package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"quantrisk/internal/config"
	"quantrisk/internal/metrics"
	"quantrisk/internal/models"
)

// Source is an upstream tick producer. It delivers ticks for subscribed
// symbols by calling Hub.Publish.
type Source interface {
	Subscribe(symbols []string) error
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal tick channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// Workers is the number of dispatch shards for consumers.
	Workers int
	// ShardBufferSize is the queue length of each dispatch shard.
	ShardBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
		Workers:              4,
		ShardBufferSize:      256,
	}
}

// ConfigFrom derives hub settings from the risk configuration.
func ConfigFrom(cfg config.RiskConfig) HubConfig {
	hc := DefaultHubConfig()
	if cfg.DispatchWorkers > 0 {
		hc.Workers = cfg.DispatchWorkers
	}
	if cfg.EventBufferSize > 0 {
		hc.SubscriberBufferSize = cfg.EventBufferSize
	}
	return hc
}

// Hub fans ticks from a single source out to channel subscribers and to
// registered consumers. Consumers are invoked through a sharded dispatcher
// so that ticks for one symbol reach a consumer in publish order while
// different symbols are processed concurrently.
type Hub struct {
	config  HubConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	source      Source
	subscribers map[string][]*Subscriber
	watched     map[string]struct{}
	started     bool

	consumersMu sync.RWMutex
	consumers   []Consumer

	tickChan   chan models.Tick
	done       chan struct{}
	loop       sync.WaitGroup
	dispatcher *Dispatcher

	ticksReceived  atomic.Uint64
	ticksBroadcast atomic.Uint64
	ticksDropped   atomic.Uint64
	ticksRejected  atomic.Uint64
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan models.Tick
	DroppedCount atomic.Uint64
	CreatedAt    time.Time
}

// NewHub creates a hub with the default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(cfg HubConfig, logger zerolog.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SubscriberBufferSize <= 0 {
		cfg.SubscriberBufferSize = def.SubscriberBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ShardBufferSize <= 0 {
		cfg.ShardBufferSize = def.ShardBufferSize
	}
	return &Hub{
		config:      cfg,
		logger:      logger.With().Str("component", "stream").Logger(),
		subscribers: make(map[string][]*Subscriber),
		watched:     make(map[string]struct{}),
		tickChan:    make(chan models.Tick, cfg.BufferSize),
		done:        make(chan struct{}),
		dispatcher:  NewDispatcher(cfg.Workers, cfg.ShardBufferSize, logger),
	}
}

// SetSource sets the upstream source. Symbols already watched are
// subscribed immediately.
func (h *Hub) SetSource(source Source) error {
	h.mu.Lock()
	h.source = source
	symbols := h.watchedLocked()
	h.mu.Unlock()

	if source == nil || len(symbols) == 0 {
		return nil
	}
	if err := source.Subscribe(symbols); err != nil {
		return fmt.Errorf("subscribing %d symbols: %w", len(symbols), err)
	}
	return nil
}

// SetMetrics attaches Prometheus collectors.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Start begins the distribution loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	h.dispatcher.Start()

	h.loop.Add(1)
	go h.broadcastLoop(ctx)
	return nil
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	defer h.loop.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			h.drain()
			return
		case tick := <-h.tickChan:
			h.deliver(tick)
		}
	}
}

// drain delivers ticks already accepted by Publish.
func (h *Hub) drain() {
	for {
		select {
		case tick := <-h.tickChan:
			h.deliver(tick)
		default:
			return
		}
	}
}

func (h *Hub) deliver(tick models.Tick) {
	h.ticksReceived.Add(1)
	h.broadcast(tick)
	h.notifyConsumers(tick)
}

// Stop stops the hub, waits for queued consumer work and closes all
// subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.mu.Unlock()

	close(h.done)
	h.loop.Wait()
	h.dispatcher.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, symbol)
	}
}

// Subscribe adds a subscriber for a symbol and returns its channel.
func (h *Hub) Subscribe(symbol string) <-chan models.Tick {
	return h.SubscribeWithID(symbol, "")
}

// SubscribeWithID adds a subscriber with a specific ID for a symbol.
func (h *Hub) SubscribeWithID(symbol, id string) <-chan models.Tick {
	ch := make(chan models.Tick, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[symbol] = append(h.subscribers[symbol], sub)
	h.mu.Unlock()

	if err := h.Watch(symbol); err != nil {
		h.logger.Warn().Err(err).Str("symbol", symbol).Msg("Source subscription failed")
	}
	return ch
}

// Unsubscribe removes a subscriber channel for a symbol.
func (h *Hub) Unsubscribe(symbol string, ch <-chan models.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[symbol]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
	}
}

// Watch asks the source for ticks on the given symbols. Symbols already
// watched are not requested again.
func (h *Hub) Watch(symbols ...string) error {
	h.mu.Lock()
	var fresh []string
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := h.watched[s]; ok {
			continue
		}
		h.watched[s] = struct{}{}
		fresh = append(fresh, s)
	}
	source := h.source
	h.mu.Unlock()

	if source == nil || len(fresh) == 0 {
		return nil
	}
	if err := source.Subscribe(fresh); err != nil {
		return fmt.Errorf("subscribing %v: %w", fresh, err)
	}
	return nil
}

// WatchedSymbols returns every symbol requested from the source, sorted.
func (h *Hub) WatchedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.watchedLocked()
}

func (h *Hub) watchedLocked() []string {
	out := make([]string, 0, len(h.watched))
	for s := range h.watched {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Publish hands a tick to the hub. It never blocks: when the internal
// buffer is full the tick is dropped. Ticks without a symbol or with a
// non-positive price are rejected.
func (h *Hub) Publish(tick models.Tick) bool {
	if !valid(tick) {
		h.reject(tick)
		return false
	}
	select {
	case h.tickChan <- tick:
		return true
	default:
		h.ticksDropped.Add(1)
		h.metrics.Dropped("hub")
		return false
	}
}

// PublishContext hands a tick to the hub, waiting for buffer space until
// ctx is done.
func (h *Hub) PublishContext(ctx context.Context, tick models.Tick) error {
	if !valid(tick) {
		h.reject(tick)
		return fmt.Errorf("invalid tick for %q at %.4f", tick.Symbol, tick.LTP)
	}
	select {
	case h.tickChan <- tick:
		return nil
	case <-ctx.Done():
		h.ticksDropped.Add(1)
		h.metrics.Dropped("hub")
		return ctx.Err()
	}
}

// PublishWithTimeout sends a tick, giving up after timeout.
func (h *Hub) PublishWithTimeout(tick models.Tick, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.PublishContext(ctx, tick) == nil
}

func valid(tick models.Tick) bool {
	return tick.Symbol != "" && tick.LTP > 0
}

func (h *Hub) reject(tick models.Tick) {
	h.ticksRejected.Add(1)
	h.metrics.TickProcessed("rejected")
	h.logger.Debug().
		Str("symbol", tick.Symbol).
		Float64("price", tick.LTP).
		Msg("Rejected tick")
}

// broadcast sends a tick to all subscribers of its symbol without blocking.
func (h *Hub) broadcast(tick models.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[tick.Symbol] {
		select {
		case sub.Channel <- tick:
			h.ticksBroadcast.Add(1)
		default:
			sub.DroppedCount.Add(1)
			h.ticksDropped.Add(1)
			h.metrics.Dropped("subscriber")
		}
	}
}

// SubscriberCount returns the number of subscribers for a symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbol])
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.mu.RLock()
	subs := 0
	for _, s := range h.subscribers {
		subs += len(s)
	}
	symbols := len(h.subscribers)
	h.mu.RUnlock()

	return HubMetrics{
		TicksReceived:  h.ticksReceived.Load(),
		TicksBroadcast: h.ticksBroadcast.Load(),
		TicksDropped:   h.ticksDropped.Load(),
		TicksRejected:  h.ticksRejected.Load(),
		Subscribers:    subs,
		Symbols:        symbols,
		Dispatch:       h.dispatcher.Stats(),
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	TicksReceived  uint64
	TicksBroadcast uint64
	TicksDropped   uint64
	TicksRejected  uint64
	Subscribers    int
	Symbols        int
	Dispatch       DispatchStats
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Consumer processes ticks.
type Consumer interface {
	// OnTick is called for each tick on a symbol the consumer wants.
	OnTick(tick models.Tick)
	// Symbols returns the symbols this consumer is interested in.
	// Return nil or an empty slice to receive all ticks.
	Symbols() []string
}

// RegisterConsumer adds a consumer to receive ticks.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()

	if err := h.Watch(consumer.Symbols()...); err != nil {
		h.logger.Warn().Err(err).Msg("Source subscription failed")
	}
}

// UnregisterConsumer removes a consumer.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

// notifyConsumers queues the tick for every interested consumer on the
// symbol's dispatch shard.
func (h *Hub) notifyConsumers(tick models.Tick) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		symbols := consumer.Symbols()
		if len(symbols) > 0 && !containsSymbol(symbols, tick.Symbol) {
			continue
		}
		c := consumer
		if !h.dispatcher.Dispatch(tick.Symbol, func() { c.OnTick(tick) }) {
			h.ticksDropped.Add(1)
			h.metrics.Dropped("dispatch")
		}
	}
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	symbols  []string
	onTickFn func(models.Tick)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(symbols []string, onTick func(models.Tick)) *ConsumerFunc {
	return &ConsumerFunc{
		symbols:  symbols,
		onTickFn: onTick,
	}
}

// OnTick implements Consumer.
func (c *ConsumerFunc) OnTick(tick models.Tick) {
	if c.onTickFn != nil {
		c.onTickFn(tick)
	}
}

// Symbols implements Consumer.
func (c *ConsumerFunc) Symbols() []string {
	return c.symbols
}
