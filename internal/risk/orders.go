package risk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/logging"
	"quantrisk/internal/models"
)

// StopLossRequest describes a stop-loss to create.
type StopLossRequest struct {
	Symbol       string
	Quantity     float64
	TriggerPrice float64
	Trailing     bool
	// TrailingPercent re-derives the trigger from the high-water mark.
	TrailingPercent float64
	// ReferencePrice seeds the high-water mark of a trailing stop.
	ReferencePrice float64
}

// TakeProfitRequest describes a take-profit to create.
type TakeProfitRequest struct {
	Symbol      string
	Quantity    float64
	TargetPrice float64
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func validateCommon(symbol string, quantity float64) error {
	if strings.TrimSpace(symbol) == "" {
		return apperrors.NewOrderValidationError("symbol", symbol, "symbol is required")
	}
	if !validPrice(quantity) {
		return apperrors.NewOrderValidationError("quantity", quantity, "quantity must be positive")
	}
	return nil
}

// CreateStopLoss validates and registers an active stop-loss order.
func (e *Engine) CreateStopLoss(req StopLossRequest) (models.StopLossOrder, error) {
	if err := validateCommon(req.Symbol, req.Quantity); err != nil {
		return models.StopLossOrder{}, err
	}
	if req.TrailingPercent < 0 || req.TrailingPercent >= 100 || math.IsNaN(req.TrailingPercent) {
		return models.StopLossOrder{}, apperrors.NewOrderValidationError("trailing_percent", req.TrailingPercent, "trailing percent must be in [0, 100)")
	}
	if req.TrailingPercent > 0 && !req.Trailing {
		return models.StopLossOrder{}, apperrors.NewOrderValidationError("trailing_percent", req.TrailingPercent, "trailing percent requires a trailing stop")
	}

	trigger := req.TriggerPrice
	hwm := 0.0
	if req.Trailing && validPrice(req.ReferencePrice) {
		hwm = req.ReferencePrice
		if req.TrailingPercent > 0 {
			trigger = math.Max(trigger, hwm*(1-req.TrailingPercent/100))
		}
	}
	if !validPrice(trigger) {
		return models.StopLossOrder{}, apperrors.NewOrderValidationError("trigger_price", req.TriggerPrice, "trigger price must be positive")
	}

	now := e.now()
	order := &models.StopLossOrder{
		ID:              uuid.NewString(),
		Symbol:          req.Symbol,
		Quantity:        req.Quantity,
		TriggerPrice:    trigger,
		Trailing:        req.Trailing,
		TrailingPercent: req.TrailingPercent,
		HighWaterMark:   hwm,
		Status:          models.OrderActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	snapshot := copyStop(order)

	e.orders.add(newStopEntry(order))
	e.persist("stop_loss", func(ctx context.Context, s Store) error { return s.SaveStopLoss(ctx, &snapshot) })
	e.watch(order.Symbol)
	e.metrics.OrderCreated(string(models.OrderKindStopLoss))
	logging.LogOrder(e.logger, order.ID, string(models.OrderKindStopLoss), order.Symbol, string(order.Status), trigger)

	return snapshot, nil
}

// CreateTakeProfit validates and registers an active take-profit order.
func (e *Engine) CreateTakeProfit(req TakeProfitRequest) (models.TakeProfitOrder, error) {
	if err := validateCommon(req.Symbol, req.Quantity); err != nil {
		return models.TakeProfitOrder{}, err
	}
	if !validPrice(req.TargetPrice) {
		return models.TakeProfitOrder{}, apperrors.NewOrderValidationError("target_price", req.TargetPrice, "target price must be positive")
	}

	now := e.now()
	order := &models.TakeProfitOrder{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Quantity:    req.Quantity,
		TargetPrice: req.TargetPrice,
		Status:      models.OrderActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	snapshot := copyTake(order)

	e.orders.add(newTakeEntry(order))
	e.persist("take_profit", func(ctx context.Context, s Store) error { return s.SaveTakeProfit(ctx, &snapshot) })
	e.watch(order.Symbol)
	e.metrics.OrderCreated(string(models.OrderKindTakeProfit))
	logging.LogOrder(e.logger, order.ID, string(models.OrderKindTakeProfit), order.Symbol, string(order.Status), req.TargetPrice)

	return snapshot, nil
}

// UpdateTrailing raises the high-water mark of every active trailing stop
// on symbol and re-derives its trigger. Neither value ever decreases. It
// returns the orders whose trigger moved.
func (e *Engine) UpdateTrailing(symbol string, price float64) []models.StopLossOrder {
	if !validPrice(price) {
		return nil
	}

	var moved []models.StopLossOrder
	for _, o := range e.orders.forSymbol(symbol, models.OrderKindStopLoss) {
		o.mu.Lock()
		if !o.active() || !o.stop.Trailing {
			o.mu.Unlock()
			continue
		}
		s := o.stop
		changed := false
		if price > s.HighWaterMark {
			s.HighWaterMark = price
			changed = true
		}
		if s.TrailingPercent > 0 {
			if next := s.HighWaterMark * (1 - s.TrailingPercent/100); next > s.TriggerPrice {
				s.TriggerPrice = next
				changed = true
			}
		}
		if !changed {
			o.mu.Unlock()
			continue
		}
		s.UpdatedAt = e.now()
		snapshot := copyStop(s)
		// Saved under o.mu so a cancel or trigger always persists after it.
		e.persist("stop_loss", func(ctx context.Context, st Store) error { return st.SaveStopLoss(ctx, &snapshot) })
		o.mu.Unlock()

		moved = append(moved, snapshot)
		lg := logging.WithOrderID(e.logger, snapshot.ID)
		lg.Debug().
			Str("symbol", symbol).
			Float64("high_water_mark", snapshot.HighWaterMark).
			Float64("trigger_price", snapshot.TriggerPrice).
			Msg("Trailing stop adjusted")
	}
	return moved
}

// CheckStopLoss triggers every active stop-loss on symbol whose trigger
// price is at or above price.
func (e *Engine) CheckStopLoss(symbol string, price float64) []models.StopLossOrder {
	if !validPrice(price) {
		return nil
	}

	var fired []models.StopLossOrder
	for _, o := range e.orders.forSymbol(symbol, models.OrderKindStopLoss) {
		o.mu.Lock()
		ok := price <= o.stop.TriggerPrice && o.finish(stateTriggered, e.now(), price)
		var snapshot models.StopLossOrder
		if ok {
			snapshot = copyStop(o.stop)
		}
		o.mu.Unlock()

		if ok {
			fired = append(fired, snapshot)
			e.onStopTriggered(snapshot)
		}
	}
	if len(fired) > 0 {
		e.orders.prune(symbol)
	}
	return fired
}

// CheckTakeProfit triggers every active take-profit on symbol whose target
// is at or below price.
func (e *Engine) CheckTakeProfit(symbol string, price float64) []models.TakeProfitOrder {
	if !validPrice(price) {
		return nil
	}

	var fired []models.TakeProfitOrder
	for _, o := range e.orders.forSymbol(symbol, models.OrderKindTakeProfit) {
		o.mu.Lock()
		ok := price >= o.take.TargetPrice && o.finish(stateTriggered, e.now(), price)
		var snapshot models.TakeProfitOrder
		if ok {
			snapshot = copyTake(o.take)
		}
		o.mu.Unlock()

		if ok {
			fired = append(fired, snapshot)
			e.onTakeTriggered(snapshot)
		}
	}
	if len(fired) > 0 {
		e.orders.prune(symbol)
	}
	return fired
}

// Cancel moves an active order to cancelled. It reports whether the order
// changed state; cancelling a terminal order is a no-op.
func (e *Engine) Cancel(orderID string) (bool, error) {
	o, ok := e.orders.get(orderID)
	if !ok {
		return false, apperrors.NewOrderError(orderID, "", "cancel", "order not found", apperrors.ErrOrderNotFound)
	}

	now := e.now()
	o.mu.Lock()
	changed := o.finish(stateCancelled, now, 0)
	var level, qty float64
	if o.stop != nil {
		level, qty = o.stop.TriggerPrice, o.stop.Quantity
	} else {
		level, qty = o.take.TargetPrice, o.take.Quantity
	}
	o.mu.Unlock()

	if !changed {
		return false, nil
	}
	e.orders.prune(o.symbol)

	switch o.kind {
	case models.OrderKindStopLoss:
		snapshot := o.stopSnapshot()
		e.persist("stop_loss", func(ctx context.Context, s Store) error { return s.SaveStopLoss(ctx, &snapshot) })
	case models.OrderKindTakeProfit:
		snapshot := o.takeSnapshot()
		e.persist("take_profit", func(ctx context.Context, s Store) error { return s.SaveTakeProfit(ctx, &snapshot) })
	}

	e.emit(models.OrderEvent{
		Type:      models.EventOrderCancelled,
		Kind:      o.kind,
		OrderID:   o.id,
		Symbol:    o.symbol,
		Quantity:  qty,
		Level:     level,
		Timestamp: now,
	})
	e.metrics.OrderCancelled(string(o.kind))
	logging.LogOrder(e.logger, o.id, string(o.kind), o.symbol, string(models.OrderCancelled), level)
	return true, nil
}

func (e *Engine) onStopTriggered(o models.StopLossOrder) {
	e.persist("stop_loss", func(ctx context.Context, s Store) error { return s.SaveStopLoss(ctx, &o) })
	e.raise(models.RiskAlert{
		Type:     models.AlertStopLossTriggered,
		Severity: models.SeverityHigh,
		Symbol:   o.Symbol,
		OrderID:  o.ID,
		Message: fmt.Sprintf("Stop-loss triggered for %s: price %.2f reached trigger %.2f (qty %g)",
			o.Symbol, o.TriggeredPrice, o.TriggerPrice, o.Quantity),
	})
	e.emit(models.OrderEvent{
		Type:      models.EventOrderTriggered,
		Kind:      models.OrderKindStopLoss,
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Quantity:  o.Quantity,
		Price:     o.TriggeredPrice,
		Level:     o.TriggerPrice,
		Timestamp: *o.TriggeredAt,
	})
	e.metrics.OrderTriggered(string(models.OrderKindStopLoss))
	logging.LogOrder(e.logger, o.ID, string(models.OrderKindStopLoss), o.Symbol, string(o.Status), o.TriggeredPrice)
}

func (e *Engine) onTakeTriggered(o models.TakeProfitOrder) {
	e.persist("take_profit", func(ctx context.Context, s Store) error { return s.SaveTakeProfit(ctx, &o) })
	e.raise(models.RiskAlert{
		Type:     models.AlertTakeProfitTriggered,
		Severity: models.SeverityMedium,
		Symbol:   o.Symbol,
		OrderID:  o.ID,
		Message: fmt.Sprintf("Take-profit triggered for %s: price %.2f reached target %.2f (qty %g)",
			o.Symbol, o.TriggeredPrice, o.TargetPrice, o.Quantity),
	})
	e.emit(models.OrderEvent{
		Type:      models.EventOrderTriggered,
		Kind:      models.OrderKindTakeProfit,
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Quantity:  o.Quantity,
		Price:     o.TriggeredPrice,
		Level:     o.TargetPrice,
		Timestamp: *o.TriggeredAt,
	})
	e.metrics.OrderTriggered(string(models.OrderKindTakeProfit))
	logging.LogOrder(e.logger, o.ID, string(models.OrderKindTakeProfit), o.Symbol, string(o.Status), o.TriggeredPrice)
}

func (e *Engine) emit(ev models.OrderEvent) {
	e.events.publish(ev)
	if e.notifier != nil {
		if err := e.notifier.NotifyOrderEvent(context.Background(), ev); err != nil {
			e.logger.Warn().Err(err).Str("order_id", ev.OrderID).Msg("Failed to publish order event")
		}
	}
}

// StopLoss returns a snapshot of a stop-loss order.
func (e *Engine) StopLoss(id string) (models.StopLossOrder, error) {
	o, ok := e.orders.get(id)
	if !ok || o.kind != models.OrderKindStopLoss {
		return models.StopLossOrder{}, apperrors.Wrapf(apperrors.ErrOrderNotFound, "stop-loss %s", id)
	}
	return o.stopSnapshot(), nil
}

// TakeProfit returns a snapshot of a take-profit order.
func (e *Engine) TakeProfit(id string) (models.TakeProfitOrder, error) {
	o, ok := e.orders.get(id)
	if !ok || o.kind != models.OrderKindTakeProfit {
		return models.TakeProfitOrder{}, apperrors.Wrapf(apperrors.ErrOrderNotFound, "take-profit %s", id)
	}
	return o.takeSnapshot(), nil
}

// StopLosses returns snapshots of stop-loss orders in creation order. An
// empty symbol matches every symbol; an empty status matches every status.
func (e *Engine) StopLosses(symbol string, status models.OrderStatus) []models.StopLossOrder {
	var out []models.StopLossOrder
	for _, o := range e.orders.all() {
		if o.kind != models.OrderKindStopLoss || (symbol != "" && o.symbol != symbol) {
			continue
		}
		if status != "" && statusOf(o.state.Load()) != status {
			continue
		}
		out = append(out, o.stopSnapshot())
	}
	return out
}

// TakeProfits returns snapshots of take-profit orders in creation order.
func (e *Engine) TakeProfits(symbol string, status models.OrderStatus) []models.TakeProfitOrder {
	var out []models.TakeProfitOrder
	for _, o := range e.orders.all() {
		if o.kind != models.OrderKindTakeProfit || (symbol != "" && o.symbol != symbol) {
			continue
		}
		if status != "" && statusOf(o.state.Load()) != status {
			continue
		}
		out = append(out, o.takeSnapshot())
	}
	return out
}

// WatchedSymbols returns the symbols with at least one active order.
func (e *Engine) WatchedSymbols() []string {
	return e.orders.symbols()
}

// protection returns the tightest active stop and nearest active target
// for symbol.
func (e *Engine) protection(symbol string) (stop float64, hasStop bool, target float64, hasTarget bool) {
	for _, o := range e.orders.forSymbol(symbol, models.OrderKindStopLoss) {
		s := o.stopSnapshot()
		if s.Status == models.OrderActive && (!hasStop || s.TriggerPrice > stop) {
			stop, hasStop = s.TriggerPrice, true
		}
	}
	for _, o := range e.orders.forSymbol(symbol, models.OrderKindTakeProfit) {
		t := o.takeSnapshot()
		if t.Status == models.OrderActive && (!hasTarget || t.TargetPrice < target) {
			target, hasTarget = t.TargetPrice, true
		}
	}
	return stop, hasStop, target, hasTarget
}
