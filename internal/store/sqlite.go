package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/models"
)

// SQLiteStore implements RiskStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ RiskStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: creating %s: %w", apperrors.ErrDatabaseError, dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", apperrors.ErrDatabaseError, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", apperrors.ErrDatabaseError, err)
	}
	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stop_losses (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		trigger_price REAL NOT NULL,
		trailing INTEGER DEFAULT 0,
		trailing_percent REAL DEFAULT 0,
		high_water_mark REAL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		triggered_at DATETIME,
		triggered_price REAL DEFAULT 0,
		cancelled_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS take_profits (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		target_price REAL NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		triggered_at DATETIME,
		triggered_price REAL DEFAULT 0,
		cancelled_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS risk_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		params TEXT NOT NULL,
		priority INTEGER DEFAULT 0,
		action TEXT NOT NULL,
		enabled INTEGER DEFAULT 1,
		trigger_count INTEGER DEFAULT 0,
		last_triggered DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS risk_alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		symbol TEXT,
		message TEXT NOT NULL,
		rule_id TEXT,
		order_id TEXT,
		timestamp DATETIME NOT NULL,
		acknowledged INTEGER DEFAULT 0,
		acknowledged_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_stop_losses_status ON stop_losses(status);
	CREATE INDEX IF NOT EXISTS idx_stop_losses_symbol ON stop_losses(symbol);
	CREATE INDEX IF NOT EXISTS idx_take_profits_status ON take_profits(status);
	CREATE INDEX IF NOT EXISTS idx_take_profits_symbol ON take_profits(symbol);
	CREATE INDEX IF NOT EXISTS idx_risk_alerts_symbol ON risk_alerts(symbol);
	CREATE INDEX IF NOT EXISTS idx_risk_alerts_timestamp ON risk_alerts(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func dbErr(action string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", apperrors.ErrDatabaseError, action, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// ============================================================================
// Order Methods
// ============================================================================

// SaveStopLoss upserts a stop-loss snapshot. A row already in a terminal
// status is left untouched.
func (s *SQLiteStore) SaveStopLoss(ctx context.Context, o *models.StopLossOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stop_losses (id, symbol, quantity, trigger_price, trailing, trailing_percent,
			high_water_mark, status, created_at, updated_at, triggered_at, triggered_price, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			quantity = excluded.quantity,
			trigger_price = excluded.trigger_price,
			trailing = excluded.trailing,
			trailing_percent = excluded.trailing_percent,
			high_water_mark = excluded.high_water_mark,
			status = excluded.status,
			updated_at = excluded.updated_at,
			triggered_at = excluded.triggered_at,
			triggered_price = excluded.triggered_price,
			cancelled_at = excluded.cancelled_at
		WHERE stop_losses.status = 'active'
	`, o.ID, o.Symbol, o.Quantity, o.TriggerPrice, boolInt(o.Trailing), o.TrailingPercent,
		o.HighWaterMark, string(o.Status), o.CreatedAt, o.UpdatedAt, o.TriggeredAt, o.TriggeredPrice, o.CancelledAt)
	if err != nil {
		return dbErr("save stop-loss", err)
	}
	return nil
}

// SaveTakeProfit upserts a take-profit snapshot. A row already in a
// terminal status is left untouched.
func (s *SQLiteStore) SaveTakeProfit(ctx context.Context, o *models.TakeProfitOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO take_profits (id, symbol, quantity, target_price, status,
			created_at, updated_at, triggered_at, triggered_price, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			quantity = excluded.quantity,
			target_price = excluded.target_price,
			status = excluded.status,
			updated_at = excluded.updated_at,
			triggered_at = excluded.triggered_at,
			triggered_price = excluded.triggered_price,
			cancelled_at = excluded.cancelled_at
		WHERE take_profits.status = 'active'
	`, o.ID, o.Symbol, o.Quantity, o.TargetPrice, string(o.Status),
		o.CreatedAt, o.UpdatedAt, o.TriggeredAt, o.TriggeredPrice, o.CancelledAt)
	if err != nil {
		return dbErr("save take-profit", err)
	}
	return nil
}

// ActiveStopLosses returns every stop-loss still active, oldest first.
func (s *SQLiteStore) ActiveStopLosses(ctx context.Context) ([]models.StopLossOrder, error) {
	return s.StopLosses(ctx, OrderFilter{Status: models.OrderActive})
}

// ActiveTakeProfits returns every take-profit still active, oldest first.
func (s *SQLiteStore) ActiveTakeProfits(ctx context.Context) ([]models.TakeProfitOrder, error) {
	return s.TakeProfits(ctx, OrderFilter{Status: models.OrderActive})
}

func orderWhere(filter OrderFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(conds) > 0 {
		clause = " WHERE " + strings.Join(conds, " AND ")
	}
	clause += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return clause, args
}

// StopLosses returns stop-losses matching filter, oldest first.
func (s *SQLiteStore) StopLosses(ctx context.Context, filter OrderFilter) ([]models.StopLossOrder, error) {
	where, args := orderWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, quantity, trigger_price, trailing, trailing_percent, high_water_mark,
			status, created_at, updated_at, triggered_at, triggered_price, cancelled_at
		FROM stop_losses`+where, args...)
	if err != nil {
		return nil, dbErr("query stop-losses", err)
	}
	defer rows.Close()

	var orders []models.StopLossOrder
	for rows.Next() {
		var o models.StopLossOrder
		var trailing int
		var status string
		var triggeredAt, cancelledAt sql.NullTime
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Quantity, &o.TriggerPrice, &trailing, &o.TrailingPercent,
			&o.HighWaterMark, &status, &o.CreatedAt, &o.UpdatedAt, &triggeredAt, &o.TriggeredPrice, &cancelledAt); err != nil {
			return nil, dbErr("scan stop-loss", err)
		}
		o.Trailing = trailing == 1
		o.Status = models.OrderStatus(status)
		o.TriggeredAt = timePtr(triggeredAt)
		o.CancelledAt = timePtr(cancelledAt)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate stop-losses", err)
	}
	return orders, nil
}

// TakeProfits returns take-profits matching filter, oldest first.
func (s *SQLiteStore) TakeProfits(ctx context.Context, filter OrderFilter) ([]models.TakeProfitOrder, error) {
	where, args := orderWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, quantity, target_price, status, created_at, updated_at,
			triggered_at, triggered_price, cancelled_at
		FROM take_profits`+where, args...)
	if err != nil {
		return nil, dbErr("query take-profits", err)
	}
	defer rows.Close()

	var orders []models.TakeProfitOrder
	for rows.Next() {
		var o models.TakeProfitOrder
		var status string
		var triggeredAt, cancelledAt sql.NullTime
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Quantity, &o.TargetPrice, &status, &o.CreatedAt, &o.UpdatedAt,
			&triggeredAt, &o.TriggeredPrice, &cancelledAt); err != nil {
			return nil, dbErr("scan take-profit", err)
		}
		o.Status = models.OrderStatus(status)
		o.TriggeredAt = timePtr(triggeredAt)
		o.CancelledAt = timePtr(cancelledAt)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate take-profits", err)
	}
	return orders, nil
}

// ============================================================================
// Rule Methods
// ============================================================================

// SaveRule inserts or replaces a rule.
func (s *SQLiteStore) SaveRule(ctx context.Context, rule *models.RiskRule) error {
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params of rule %s: %w", rule.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO risk_rules (id, name, type, params, priority, action, enabled,
			trigger_count, last_triggered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.Name, string(rule.Type), string(params), rule.Priority, string(rule.Action),
		boolInt(rule.Enabled), rule.TriggerCount, rule.LastTriggered, rule.CreatedAt)
	if err != nil {
		return dbErr("save rule", err)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM risk_rules WHERE id = ?`, id)
	if err != nil {
		return dbErr("delete rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrRuleNotFound, id)
	}
	return nil
}

// Rules returns all rules, highest priority first.
func (s *SQLiteStore) Rules(ctx context.Context) ([]models.RiskRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, params, priority, action, enabled, trigger_count, last_triggered, created_at
		FROM risk_rules ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, dbErr("query rules", err)
	}
	defer rows.Close()

	var rules []models.RiskRule
	for rows.Next() {
		var r models.RiskRule
		var ruleType, action, params string
		var enabled int
		var lastTriggered sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &ruleType, &params, &r.Priority, &action, &enabled,
			&r.TriggerCount, &lastTriggered, &r.CreatedAt); err != nil {
			return nil, dbErr("scan rule", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params of rule %s: %w", r.ID, err)
		}
		r.Type = models.RuleType(ruleType)
		r.Action = models.RuleAction(action)
		r.Enabled = enabled == 1
		r.LastTriggered = timePtr(lastTriggered)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate rules", err)
	}
	return rules, nil
}

// ============================================================================
// Alert Methods
// ============================================================================

// SaveAlert appends an alert. Saving an existing ID only updates its
// acknowledgement state.
func (s *SQLiteStore) SaveAlert(ctx context.Context, a *models.RiskAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_alerts (id, type, severity, symbol, message, rule_id, order_id, timestamp,
			acknowledged, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			acknowledged = excluded.acknowledged,
			acknowledged_at = excluded.acknowledged_at
	`, a.ID, string(a.Type), string(a.Severity), a.Symbol, a.Message, a.RuleID, a.OrderID, a.Timestamp,
		boolInt(a.Acknowledged), a.AcknowledgedAt)
	if err != nil {
		return dbErr("save alert", err)
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice keeps
// the first timestamp.
func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE risk_alerts SET acknowledged = 1, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0
	`, at, id)
	if err != nil {
		return dbErr("acknowledge alert", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM risk_alerts WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return dbErr("look up alert", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrAlertNotFound, id)
	}
	return nil
}

// Alerts returns alerts matching filter in timestamp order.
func (s *SQLiteStore) Alerts(ctx context.Context, filter AlertFilter) ([]models.RiskAlert, error) {
	query := `
		SELECT id, type, severity, symbol, message, rule_id, order_id, timestamp, acknowledged, acknowledged_at
		FROM risk_alerts WHERE 1=1`
	var args []interface{}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	if filter.UnacknowledgedOnly {
		query += " AND acknowledged = 0"
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("query alerts", err)
	}
	defer rows.Close()

	var alerts []models.RiskAlert
	for rows.Next() {
		var a models.RiskAlert
		var alertType, severity string
		var symbol, ruleID, orderID sql.NullString
		var acknowledged int
		var acknowledgedAt sql.NullTime
		if err := rows.Scan(&a.ID, &alertType, &severity, &symbol, &a.Message, &ruleID, &orderID,
			&a.Timestamp, &acknowledged, &acknowledgedAt); err != nil {
			return nil, dbErr("scan alert", err)
		}
		a.Type = models.AlertType(alertType)
		a.Severity = models.Severity(severity)
		a.Symbol = symbol.String
		a.RuleID = ruleID.String
		a.OrderID = orderID.String
		a.Acknowledged = acknowledged == 1
		a.AcknowledgedAt = timePtr(acknowledgedAt)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate alerts", err)
	}
	return alerts, nil
}
