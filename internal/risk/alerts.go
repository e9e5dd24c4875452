package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/logging"
	"quantrisk/internal/models"
)

// AlertLog is an append-only, concurrency-safe log of risk alerts.
// Acknowledgement is the only mutation.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []models.RiskAlert
	index  map[string]int
}

// NewAlertLog creates an empty log.
func NewAlertLog() *AlertLog {
	return &AlertLog{index: make(map[string]int)}
}

// Append adds an alert. Alerts with an ID already in the log are ignored.
func (l *AlertLog) Append(alert models.RiskAlert) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.index[alert.ID]; dup {
		return false
	}
	l.index[alert.ID] = len(l.alerts)
	l.alerts = append(l.alerts, alert)
	return true
}

// Acknowledge marks an alert as acknowledged. Acknowledging twice keeps the
// first timestamp. changed reports whether this call acknowledged it.
func (l *AlertLog) Acknowledge(id string, at time.Time) (alert models.RiskAlert, changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return models.RiskAlert{}, false, apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", id)
	}
	a := &l.alerts[i]
	if !a.Acknowledged {
		a.Acknowledged = true
		a.AcknowledgedAt = &at
		changed = true
	}
	return copyAlert(*a), changed, nil
}

// Get returns one alert.
func (l *AlertLog) Get(id string) (models.RiskAlert, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return models.RiskAlert{}, false
	}
	return copyAlert(l.alerts[i]), true
}

// All returns every alert in append order.
func (l *AlertLog) All() []models.RiskAlert {
	return l.filter(func(models.RiskAlert) bool { return true })
}

// Unacknowledged returns alerts not yet acknowledged.
func (l *AlertLog) Unacknowledged() []models.RiskAlert {
	return l.filter(func(a models.RiskAlert) bool { return !a.Acknowledged })
}

// ForSymbol returns the alerts raised for symbol.
func (l *AlertLog) ForSymbol(symbol string) []models.RiskAlert {
	return l.filter(func(a models.RiskAlert) bool { return a.Symbol == symbol })
}

// Len returns the number of alerts.
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.alerts)
}

func (l *AlertLog) filter(keep func(models.RiskAlert) bool) []models.RiskAlert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.RiskAlert, 0, len(l.alerts))
	for _, a := range l.alerts {
		if keep(a) {
			out = append(out, copyAlert(a))
		}
	}
	return out
}

func copyAlert(a models.RiskAlert) models.RiskAlert {
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		a.AcknowledgedAt = &t
	}
	return a
}

// raise stamps, records and publishes an alert.
func (e *Engine) raise(alert models.RiskAlert) models.RiskAlert {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = e.now()
	}
	if !e.alerts.Append(alert) {
		return alert
	}

	e.persist("alert", func(ctx context.Context, s Store) error { return s.SaveAlert(ctx, &alert) })
	e.alertStream.publish(alert)
	if e.notifier != nil {
		if err := e.notifier.NotifyAlert(context.Background(), alert); err != nil {
			e.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("Failed to publish alert")
		}
	}
	e.metrics.AlertRaised(string(alert.Type), string(alert.Severity))
	logging.LogAlert(e.logger, alert.ID, string(alert.Type), string(alert.Severity), alert.Symbol, alert.Message)
	return alert
}

// AcknowledgeAlert marks an alert as acknowledged.
func (e *Engine) AcknowledgeAlert(id string) (models.RiskAlert, error) {
	alert, changed, err := e.alerts.Acknowledge(id, e.now())
	if err != nil {
		return models.RiskAlert{}, err
	}
	if changed {
		at := *alert.AcknowledgedAt
		e.persist("alert", func(ctx context.Context, s Store) error { return s.AcknowledgeAlert(ctx, id, at) })
		e.metrics.AlertAcknowledged()
	}
	return alert, nil
}

// RestoreAlerts appends previously persisted alerts to the log without
// republishing them.
func (e *Engine) RestoreAlerts(alerts []models.RiskAlert) int {
	n := 0
	for _, a := range alerts {
		if e.alerts.Append(a) {
			n++
		}
	}
	return n
}
