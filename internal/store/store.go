// Package store persists protective orders, risk rules and the alert log.
// Positions are owned by the caller and are never stored here.
package store

import (
	"context"
	"time"

	"quantrisk/internal/models"
)

// RiskStore is the persistence contract of the risk engine plus the
// history queries used by the CLI.
type RiskStore interface {
	// Orders
	SaveStopLoss(ctx context.Context, order *models.StopLossOrder) error
	SaveTakeProfit(ctx context.Context, order *models.TakeProfitOrder) error
	ActiveStopLosses(ctx context.Context) ([]models.StopLossOrder, error)
	ActiveTakeProfits(ctx context.Context) ([]models.TakeProfitOrder, error)
	StopLosses(ctx context.Context, filter OrderFilter) ([]models.StopLossOrder, error)
	TakeProfits(ctx context.Context, filter OrderFilter) ([]models.TakeProfitOrder, error)

	// Rules
	SaveRule(ctx context.Context, rule *models.RiskRule) error
	DeleteRule(ctx context.Context, id string) error
	Rules(ctx context.Context) ([]models.RiskRule, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *models.RiskAlert) error
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) error
	Alerts(ctx context.Context, filter AlertFilter) ([]models.RiskAlert, error)

	Close() error
}

// OrderFilter filters order history queries.
type OrderFilter struct {
	Symbol string
	Status models.OrderStatus
	Limit  int
}

// AlertFilter filters alert queries.
type AlertFilter struct {
	Symbol             string
	Since              time.Time
	UnacknowledgedOnly bool
	Limit              int
}
