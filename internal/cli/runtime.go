package cli

import (
	"context"
	"io"

	"quantrisk/internal/analytics"
	"quantrisk/internal/logging"
	"quantrisk/internal/models"
	"quantrisk/internal/notify"
	"quantrisk/internal/risk"
	"quantrisk/internal/store"
)

// riskRuntime is a risk engine wired to the configured store.
type riskRuntime struct {
	engine  *risk.Engine
	store   store.RiskStore
	closers []io.Closer
}

// openRisk builds a risk engine, attaching and restoring from the SQLite
// store when it is enabled.
func (a *App) openRisk(ctx context.Context, opts ...risk.Option) (*riskRuntime, error) {
	rt := &riskRuntime{}

	base := []risk.Option{
		risk.WithMetrics(a.Metrics),
		risk.WithAnalyzer(analytics.New(a.Config.Analytics)),
	}

	if a.Config.Store.Enabled {
		s, err := store.NewSQLiteStore(a.Config.Store.Path)
		if err != nil {
			return nil, err
		}
		rt.store = s
		rt.closers = append(rt.closers, s)
		base = append(base, risk.WithStore(s))
	}

	rt.engine = risk.NewEngine(a.Config.Risk, a.Logger, append(base, opts...)...)

	if rt.store != nil {
		if err := rt.engine.Restore(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		alerts, err := rt.store.Alerts(ctx, store.AlertFilter{})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.engine.RestoreAlerts(alerts)
	}

	return rt, nil
}

// requireStore reports an error for commands that only make sense with persistence.
func (rt *riskRuntime) requireStore() error {
	if rt.store == nil {
		return errStoreDisabled
	}
	return nil
}

// Close releases the store and any notifier connections.
func (rt *riskRuntime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
}

// notifier assembles the alert stream: terminal and log always, Redis when
// enabled. The returned closers release notifier connections.
func (a *App) notifier(ctx context.Context, out io.Writer, colors bool) (*notify.MultiNotifier, []io.Closer) {
	mn := notify.NewMultiNotifier(
		models.Severity(a.Config.Notify.MinSeverity),
		notify.NewTerminalNotifier(out, a.Config.Notify.TerminalBell, colors),
		notify.NewLogNotifier(logging.WithComponent(a.Logger, "notify")),
	)
	var closers []io.Closer
	if a.Config.Notify.Redis.Enabled {
		rn := notify.NewRedisNotifier(a.Config.Notify.Redis, a.Logger, a.Metrics)
		if err := rn.Connect(ctx, notify.DefaultBackoff()); err != nil {
			// Publishing still goes through the breaker once Redis is back.
			a.Logger.Warn().Err(err).Str("addr", a.Config.Notify.Redis.Addr).Msg("Redis unavailable")
		}
		mn.AddChannel(rn)
		closers = append(closers, rn)
	}
	return mn, closers
}
