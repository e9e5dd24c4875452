package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"quantrisk/internal/config"
	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/logging"
	"quantrisk/internal/metrics"
	"quantrisk/internal/models"
)

// RedisNotifier publishes alerts and order events as JSON on Redis
// pub/sub channels. Publishing goes through a circuit breaker so a dead
// Redis fails fast instead of stalling the risk engine.
type RedisNotifier struct {
	client       *redis.Client
	breaker      *gobreaker.CircuitBreaker
	alertChannel string
	eventChannel string
	timeout      time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// NewRedisNotifier connects a client from cfg.
func NewRedisNotifier(cfg config.RedisConfig, logger zerolog.Logger, m *metrics.Metrics) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisNotifierWithClient(client, cfg, logger, m)
}

// NewRedisNotifierWithClient wraps an existing client.
func NewRedisNotifierWithClient(client *redis.Client, cfg config.RedisConfig, logger zerolog.Logger, m *metrics.Metrics) *RedisNotifier {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	logger = logging.WithComponent(logger, "redis-notify")

	st := gobreaker.Settings{
		Name:    "redis-notify",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &RedisNotifier{
		client:       client,
		breaker:      gobreaker.NewCircuitBreaker(st),
		alertChannel: cfg.AlertChannel,
		eventChannel: cfg.EventChannel,
		timeout:      timeout,
		metrics:      m,
		logger:       logger,
	}
}

// Name implements Channel.
func (n *RedisNotifier) Name() string { return "redis" }

// NotifyAlert implements Notifier.
func (n *RedisNotifier) NotifyAlert(ctx context.Context, alert models.RiskAlert) error {
	return n.publish(ctx, n.alertChannel, alert)
}

// NotifyOrderEvent implements Notifier.
func (n *RedisNotifier) NotifyOrderEvent(ctx context.Context, event models.OrderEvent) error {
	return n.publish(ctx, n.eventChannel, event)
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", channel, err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.client.Publish(ctx, channel, string(payload)).Result()
	})
	if err != nil {
		n.metrics.NotifyFailed(n.Name())
		return fmt.Errorf("%w: redis channel %s: %w", apperrors.ErrPublishFailed, channel, err)
	}
	return nil
}

// Ping checks connectivity.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Connect pings Redis with backoff until it answers.
func (n *RedisNotifier) Connect(ctx context.Context, b Backoff) error {
	attempt := 0
	err := retry(ctx, b, func() error {
		attempt++
		err := n.Ping(ctx)
		if err != nil {
			n.logger.Debug().Err(err).Int("attempt", attempt).Msg("Redis ping failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("connecting to redis after %d attempts: %w", attempt, err)
	}
	return nil
}

// State returns the breaker state.
func (n *RedisNotifier) State() gobreaker.State {
	return n.breaker.State()
}

// Close closes the client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
