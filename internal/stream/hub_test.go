package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/internal/config"
	"quantrisk/internal/metrics"
	"quantrisk/internal/models"
)

type recordingSource struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (s *recordingSource) Subscribe(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), symbols...))
	return s.err
}

func (s *recordingSource) all() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	h := NewHubWithConfig(cfg, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h
}

func TestWatchDedupesAndForwardsToSource(t *testing.T) {
	h := NewHub(zerolog.Nop())
	require.NoError(t, h.Watch("TCS"))

	src := &recordingSource{}
	require.NoError(t, h.SetSource(src))
	require.NoError(t, h.Watch("TCS", "INFY", ""))
	require.NoError(t, h.Watch("INFY"))

	assert.Equal(t, [][]string{{"TCS"}, {"INFY"}}, src.all())
	assert.Equal(t, []string{"INFY", "TCS"}, h.WatchedSymbols())
}

func TestWatchReportsSourceError(t *testing.T) {
	h := NewHub(zerolog.Nop())
	require.NoError(t, h.SetSource(&recordingSource{err: errors.New("feed down")}))

	err := h.Watch("TCS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed down")
}

func TestPublishRejectsInvalidTicks(t *testing.T) {
	m := metrics.New()
	h := startHub(t, DefaultHubConfig())
	h.SetMetrics(m)

	assert.False(t, h.Publish(models.Tick{Symbol: "", LTP: 10}))
	assert.False(t, h.Publish(models.Tick{Symbol: "TCS", LTP: 0}))
	assert.Error(t, h.PublishContext(context.Background(), models.Tick{Symbol: "TCS", LTP: -1}))

	assert.Equal(t, uint64(3), h.Metrics().TicksRejected)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TicksProcessed.WithLabelValues("rejected")))
}

func TestSubscriberReceivesOnlyItsSymbol(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	tcs := h.Subscribe("TCS")

	require.True(t, h.Publish(models.Tick{Symbol: "INFY", LTP: 1500}))
	require.True(t, h.Publish(models.Tick{Symbol: "TCS", LTP: 3500}))

	select {
	case tick := <-tcs:
		assert.Equal(t, "TCS", tick.Symbol)
		assert.Equal(t, 3500.0, tick.LTP)
	case <-time.After(2 * time.Second):
		t.Fatal("tick not delivered")
	}
	assert.Equal(t, 1, h.SubscriberCount("TCS"))
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	m := metrics.New()
	h := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 2}, zerolog.Nop())
	h.SetMetrics(m)
	require.NoError(t, h.Start(context.Background()))

	_ = h.Subscribe("TCS") // never read
	for i := 0; i < 10; i++ {
		require.NoError(t, h.PublishContext(context.Background(), models.Tick{Symbol: "TCS", LTP: float64(100 + i)}))
	}
	h.Stop()

	stats := h.Metrics()
	assert.Equal(t, uint64(10), stats.TicksReceived)
	assert.Equal(t, uint64(2), stats.TicksBroadcast)
	assert.Equal(t, uint64(8), stats.TicksDropped)
	assert.Equal(t, 8.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("subscriber")))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := startHub(t, DefaultHubConfig())
	ch := h.Subscribe("TCS")
	h.Unsubscribe("TCS", ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.SubscriberCount("TCS"))
}

func TestStopDeliversQueuedTicksToConsumers(t *testing.T) {
	h := NewHubWithConfig(HubConfig{Workers: 2}, zerolog.Nop())

	var mu sync.Mutex
	var got []float64
	h.RegisterConsumer(NewConsumerFunc([]string{"TCS"}, func(tick models.Tick) {
		mu.Lock()
		got = append(got, tick.LTP)
		mu.Unlock()
	}))
	require.NoError(t, h.Start(context.Background()))

	for i := 1; i <= 50; i++ {
		require.NoError(t, h.PublishContext(context.Background(), models.Tick{Symbol: "TCS", LTP: float64(i)}))
		require.NoError(t, h.PublishContext(context.Background(), models.Tick{Symbol: "INFY", LTP: float64(i)}))
	}
	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, float64(i+1), v)
	}
	assert.Equal(t, []string{"TCS"}, h.WatchedSymbols())
}

func TestConsumerPanicDoesNotStopDispatch(t *testing.T) {
	h := NewHubWithConfig(HubConfig{Workers: 1}, zerolog.Nop())

	var mu sync.Mutex
	calls := 0
	h.RegisterConsumer(NewConsumerFunc(nil, func(tick models.Tick) {
		mu.Lock()
		calls++
		mu.Unlock()
		if tick.LTP == 1 {
			panic("boom")
		}
	}))
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.PublishContext(context.Background(), models.Tick{Symbol: "TCS", LTP: 1}))
	require.NoError(t, h.PublishContext(context.Background(), models.Tick{Symbol: "TCS", LTP: 2}))
	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(1), h.Metrics().Dispatch.Panics)
}

func TestDispatcherShardIsStable(t *testing.T) {
	d := NewDispatcher(8, 1, zerolog.Nop())
	for _, s := range []string{"TCS", "INFY", "RELIANCE"} {
		assert.Equal(t, d.Shard(s), d.Shard(s))
		assert.Less(t, d.Shard(s), 8)
	}
	assert.False(t, d.Dispatch("TCS", func() {}), "not started")
}

func TestDispatcherRunsEveryAcceptedTaskAcrossStop(t *testing.T) {
	for round := 0; round < 20; round++ {
		d := NewDispatcher(4, 2, zerolog.Nop())
		d.Start()

		var accepted, ran atomic.Int64
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				key := string(rune('A' + g))
				for i := 0; i < 50; i++ {
					if d.Dispatch(key, func() { ran.Add(1) }) {
						accepted.Add(1)
					}
				}
			}(g)
		}
		time.Sleep(time.Millisecond)
		d.Stop()
		wg.Wait()

		assert.Equal(t, accepted.Load(), ran.Load())
		stats := d.Stats()
		assert.Equal(t, stats.TasksTotal, stats.TasksDone)
		assert.Zero(t, stats.QueueLen)
		assert.False(t, d.Dispatch("A", func() {}), "stopped")
	}
}

func TestPump(t *testing.T) {
	h := NewHubWithConfig(HubConfig{Workers: 1}, zerolog.Nop())

	var mu sync.Mutex
	var ticks []models.Tick
	h.RegisterConsumer(NewConsumerFunc(nil, func(tick models.Tick) {
		mu.Lock()
		ticks = append(ticks, tick)
		mu.Unlock()
	}))
	require.NoError(t, h.Start(context.Background()))

	input := strings.Join([]string{
		`{"symbol":"TCS","price":3500.5,"timestamp":"2026-04-01T09:15:00Z"}`,
		``,
		`not json`,
		`{"symbol":"TCS","price":0}`,
		`{"symbol":"TCS","price":3490}`,
	}, "\n")

	res, err := Pump(context.Background(), strings.NewReader(input), h, zerolog.Nop())
	require.NoError(t, err)
	h.Stop()

	assert.Equal(t, PumpResult{Published: 2, Skipped: 2}, res)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ticks, 2)
	assert.Equal(t, 3500.5, ticks[0].LTP)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 15, 0, 0, time.UTC), ticks[0].Timestamp)
	assert.True(t, ticks[1].Timestamp.IsZero())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.RiskConfig{DispatchWorkers: 8, EventBufferSize: 16})
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 16, cfg.SubscriberBufferSize)

	assert.Equal(t, DefaultHubConfig(), ConfigFrom(config.RiskConfig{}))
}
