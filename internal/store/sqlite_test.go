package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
)

var t0 = time.Date(2026, 4, 1, 9, 15, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "risk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStopLossRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := models.StopLossOrder{
		ID: "sl-1", Symbol: "TCS", Quantity: 10, TriggerPrice: 95,
		Trailing: true, TrailingPercent: 5, HighWaterMark: 100,
		Status: models.OrderActive, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.SaveStopLoss(ctx, &active))

	at := t0.Add(time.Minute)
	done := active
	done.ID = "sl-2"
	done.Status = models.OrderTriggered
	done.TriggeredAt = &at
	done.TriggeredPrice = 94.5
	require.NoError(t, s.SaveStopLoss(ctx, &done))

	got, err := s.ActiveStopLosses(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sl-1", got[0].ID)
	assert.True(t, got[0].Trailing)
	assert.Equal(t, 5.0, got[0].TrailingPercent)
	assert.Equal(t, 100.0, got[0].HighWaterMark)
	assert.True(t, got[0].CreatedAt.Equal(t0))
	assert.Nil(t, got[0].TriggeredAt)

	hist, err := s.StopLosses(ctx, OrderFilter{Status: models.OrderTriggered})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.NotNil(t, hist[0].TriggeredAt)
	assert.True(t, hist[0].TriggeredAt.Equal(at))
	assert.Equal(t, 94.5, hist[0].TriggeredPrice)

	// a status change replaces the row
	active.Status = models.OrderCancelled
	active.CancelledAt = &at
	require.NoError(t, s.SaveStopLoss(ctx, &active))
	got, err = s.ActiveStopLosses(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	all, err := s.StopLosses(ctx, OrderFilter{Symbol: "TCS"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTerminalOrdersAreNotReactivated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := t0.Add(time.Minute)

	stop := models.StopLossOrder{
		ID: "sl-1", Symbol: "TCS", Quantity: 10, TriggerPrice: 95,
		Trailing: true, TrailingPercent: 5, HighWaterMark: 100,
		Status: models.OrderActive, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.SaveStopLoss(ctx, &stop))
	stale := stop

	stop.Status = models.OrderCancelled
	stop.CancelledAt = &at
	require.NoError(t, s.SaveStopLoss(ctx, &stop))

	stale.HighWaterMark = 110
	stale.TriggerPrice = 104.5
	require.NoError(t, s.SaveStopLoss(ctx, &stale))

	got, err := s.StopLosses(ctx, OrderFilter{Symbol: "TCS"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.OrderCancelled, got[0].Status)
	assert.Equal(t, 100.0, got[0].HighWaterMark)

	take := models.TakeProfitOrder{
		ID: "tp-1", Symbol: "TCS", Quantity: 10, TargetPrice: 120,
		Status: models.OrderActive, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.SaveTakeProfit(ctx, &take))
	done := take
	done.Status = models.OrderTriggered
	done.TriggeredAt = &at
	done.TriggeredPrice = 121
	require.NoError(t, s.SaveTakeProfit(ctx, &done))
	require.NoError(t, s.SaveTakeProfit(ctx, &take))

	active, err := s.ActiveTakeProfits(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTakeProfitRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, sym := range []string{"INFY", "TCS", "INFY"} {
		o := models.TakeProfitOrder{
			ID: sym + string(rune('a'+i)), Symbol: sym, Quantity: 1, TargetPrice: 1600,
			Status: models.OrderActive, CreatedAt: t0.Add(time.Duration(i) * time.Second), UpdatedAt: t0,
		}
		require.NoError(t, s.SaveTakeProfit(ctx, &o))
	}

	got, err := s.TakeProfits(ctx, OrderFilter{Symbol: "INFY", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "INFYa", got[0].ID)

	active, err := s.ActiveTakeProfits(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := models.RiskRule{
		ID: "r-low", Name: "size", Type: models.RulePositionSize,
		Params: map[string]float64{"max_percent": 20}, Priority: 1,
		Action: models.RuleActionAlert, Enabled: true, CreatedAt: t0,
	}
	high := models.RiskRule{
		ID: "r-high", Name: "conc", Type: models.RuleConcentration,
		Params: map[string]float64{"max_sector_percent": 30}, Priority: 9,
		Action: models.RuleActionRestrict, Enabled: false, TriggerCount: 2,
		LastTriggered: &t0, CreatedAt: t0,
	}
	require.NoError(t, s.SaveRule(ctx, &low))
	require.NoError(t, s.SaveRule(ctx, &high))

	rules, err := s.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r-high", rules[0].ID)
	assert.False(t, rules[0].Enabled)
	assert.Equal(t, 2, rules[0].TriggerCount)
	require.NotNil(t, rules[0].LastTriggered)
	assert.Equal(t, map[string]float64{"max_sector_percent": 30}, rules[0].Params)
	assert.Equal(t, models.RuleActionRestrict, rules[0].Action)

	require.NoError(t, s.DeleteRule(ctx, "r-high"))
	err = s.DeleteRule(ctx, "r-high")
	assert.ErrorIs(t, err, apperrors.ErrRuleNotFound)

	rules, err = s.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := models.RiskAlert{
		ID: "a1", Type: models.AlertStopLossTriggered, Severity: models.SeverityHigh,
		Symbol: "TCS", Message: "stop hit", OrderID: "sl-1", Timestamp: t0,
	}
	a2 := models.RiskAlert{
		ID: "a2", Type: models.AlertConcentration, Severity: models.SeverityMedium,
		Message: "sector heavy", RuleID: "r1", Timestamp: t0.Add(time.Hour),
	}
	require.NoError(t, s.SaveAlert(ctx, &a1))
	require.NoError(t, s.SaveAlert(ctx, &a2))
	require.NoError(t, s.SaveAlert(ctx, &a1), "re-saving is not an error")

	all, err := s.Alerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a1", all[0].ID)
	assert.Equal(t, "sl-1", all[0].OrderID)
	assert.Equal(t, "", all[1].Symbol)
	assert.Equal(t, "r1", all[1].RuleID)

	ackAt := t0.Add(2 * time.Hour)
	require.NoError(t, s.AcknowledgeAlert(ctx, "a1", ackAt))
	require.NoError(t, s.AcknowledgeAlert(ctx, "a1", ackAt.Add(time.Hour)))
	assert.ErrorIs(t, s.AcknowledgeAlert(ctx, "missing", ackAt), apperrors.ErrAlertNotFound)

	open, err := s.Alerts(ctx, AlertFilter{UnacknowledgedOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a2", open[0].ID)

	tcs, err := s.Alerts(ctx, AlertFilter{Symbol: "TCS"})
	require.NoError(t, err)
	require.Len(t, tcs, 1)
	assert.True(t, tcs[0].Acknowledged)
	require.NotNil(t, tcs[0].AcknowledgedAt)
	assert.True(t, tcs[0].AcknowledgedAt.Equal(ackAt))

	recent, err := s.Alerts(ctx, AlertFilter{Since: t0.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "a2", recent[0].ID)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	o := models.TakeProfitOrder{ID: "tp", Symbol: "TCS", Quantity: 1, TargetPrice: 10, Status: models.OrderActive, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.SaveTakeProfit(context.Background(), &o))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ActiveTakeProfits(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tp", got[0].ID)
}
