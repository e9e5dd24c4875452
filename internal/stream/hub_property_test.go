package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"quantrisk/internal/models"
)

// Ticks for one symbol reach a consumer in publish order regardless of
// how many shards the dispatcher runs.
func TestProperty_PerSymbolOrderPreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFC", "ICICI"}

	properties.Property("consumer sees increasing prices per symbol", prop.ForAll(
		func(workers, tickCount int) bool {
			h := NewHubWithConfig(HubConfig{BufferSize: 16, Workers: workers, ShardBufferSize: 4}, zerolog.Nop())

			var mu sync.Mutex
			seen := make(map[string][]float64)
			h.RegisterConsumer(NewConsumerFunc(nil, func(tick models.Tick) {
				mu.Lock()
				seen[tick.Symbol] = append(seen[tick.Symbol], tick.LTP)
				mu.Unlock()
			}))
			if err := h.Start(context.Background()); err != nil {
				return false
			}

			for i := 1; i <= tickCount; i++ {
				for _, s := range symbols {
					if err := h.PublishContext(context.Background(), models.Tick{Symbol: s, LTP: float64(i)}); err != nil {
						return false
					}
				}
			}
			h.Stop()

			mu.Lock()
			defer mu.Unlock()
			for _, s := range symbols {
				got := seen[s]
				if len(got) != tickCount {
					return false
				}
				for i, v := range got {
					if v != float64(i+1) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 60),
	))

	properties.TestingRun(t)
}

// A subscriber never sees ticks for a symbol it did not subscribe to.
func TestProperty_SubscribersReceiveOwnSymbol(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFC", "ICICI"}

	properties.Property("subscribers only receive their symbol", prop.ForAll(
		func(subscribed, published int) bool {
			h := NewHub(zerolog.Nop())
			if err := h.Start(context.Background()); err != nil {
				return false
			}
			ch := h.Subscribe(symbols[subscribed])
			if err := h.PublishContext(context.Background(), models.Tick{Symbol: symbols[published], LTP: 1000}); err != nil {
				return false
			}
			h.Stop() // drains and closes ch

			var got []models.Tick
			for tick := range ch {
				got = append(got, tick)
			}
			if subscribed == published {
				return len(got) == 1 && got[0].Symbol == symbols[subscribed]
			}
			return len(got) == 0
		},
		gen.IntRange(0, 4),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}
