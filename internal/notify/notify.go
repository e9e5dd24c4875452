// Package notify forwards risk alerts and order events to downstream
// channels: the log, the terminal and Redis pub/sub.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
)

// Notifier publishes alerts and order events.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert models.RiskAlert) error
	NotifyOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// Channel is a named Notifier.
type Channel interface {
	Notifier
	Name() string
}

// MultiNotifier sends to every channel. Alerts below the minimum severity
// are dropped; order events are always sent.
type MultiNotifier struct {
	mu          sync.RWMutex
	channels    []Channel
	minSeverity models.Severity
}

// NewMultiNotifier creates a MultiNotifier.
func NewMultiNotifier(minSeverity models.Severity, channels ...Channel) *MultiNotifier {
	if minSeverity.Rank() == 0 {
		minSeverity = models.SeverityLow
	}
	return &MultiNotifier{
		channels:    channels,
		minSeverity: minSeverity,
	}
}

// AddChannel adds a channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the channel names.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	names := make([]string, len(mn.channels))
	for i, ch := range mn.channels {
		names[i] = ch.Name()
	}
	return names
}

func (mn *MultiNotifier) snapshot() []Channel {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	return append([]Channel(nil), mn.channels...)
}

// NotifyAlert implements Notifier.
func (mn *MultiNotifier) NotifyAlert(ctx context.Context, alert models.RiskAlert) error {
	if alert.Severity.Rank() < mn.minSeverity.Rank() {
		return nil
	}
	return mn.each(func(ch Channel) error { return ch.NotifyAlert(ctx, alert) })
}

// NotifyOrderEvent implements Notifier.
func (mn *MultiNotifier) NotifyOrderEvent(ctx context.Context, event models.OrderEvent) error {
	return mn.each(func(ch Channel) error { return ch.NotifyOrderEvent(ctx, event) })
}

func (mn *MultiNotifier) each(send func(Channel) error) error {
	var errs []string
	for _, ch := range mn.snapshot() {
		if err := send(ch); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrPublishFailed, strings.Join(errs, "; "))
	}
	return nil
}
