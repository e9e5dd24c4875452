package notify

import (
	"context"

	"github.com/rs/zerolog"

	"quantrisk/internal/logging"
	"quantrisk/internal/models"
)

// LogNotifier writes alerts and order events to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.WithComponent(logger, "notify")}
}

// Name implements Channel.
func (n *LogNotifier) Name() string { return "log" }

// NotifyAlert implements Notifier.
func (n *LogNotifier) NotifyAlert(_ context.Context, alert models.RiskAlert) error {
	logging.LogAlert(n.logger, alert.ID, string(alert.Type), string(alert.Severity), alert.Symbol, alert.Message)
	return nil
}

// NotifyOrderEvent implements Notifier.
func (n *LogNotifier) NotifyOrderEvent(_ context.Context, ev models.OrderEvent) error {
	lg := logging.WithOrderID(n.logger, ev.OrderID)
	lg.Info().
		Str("event", string(ev.Type)).
		Str("kind", string(ev.Kind)).
		Str("symbol", ev.Symbol).
		Float64("price", ev.Price).
		Float64("level", ev.Level).
		Float64("quantity", ev.Quantity).
		Msg("Order event")
	return nil
}
