package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"quantrisk/internal/models"
)

// TerminalNotifier prints alerts and order events as single colored lines.
type TerminalNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	bell   bool
	colors bool

	critical *color.Color
	high     *color.Color
	medium   *color.Color
	low      *color.Color
	profit   *color.Color
	loss     *color.Color
	muted    *color.Color
}

// NewTerminalNotifier creates a TerminalNotifier writing to out. The bell
// rings for high and critical alerts when enabled.
func NewTerminalNotifier(out io.Writer, bell, colors bool) *TerminalNotifier {
	tn := &TerminalNotifier{
		out:      out,
		bell:     bell,
		colors:   colors,
		critical: color.New(color.FgRed, color.Bold),
		high:     color.New(color.FgRed),
		medium:   color.New(color.FgYellow),
		low:      color.New(color.FgCyan),
		profit:   color.New(color.FgGreen),
		loss:     color.New(color.FgRed),
		muted:    color.New(color.FgHiBlack),
	}
	if !colors {
		for _, c := range []*color.Color{tn.critical, tn.high, tn.medium, tn.low, tn.profit, tn.loss, tn.muted} {
			c.DisableColor()
		}
	}
	return tn
}

// Name implements Channel.
func (tn *TerminalNotifier) Name() string { return "terminal" }

func (tn *TerminalNotifier) severityColor(s models.Severity) *color.Color {
	switch s {
	case models.SeverityCritical:
		return tn.critical
	case models.SeverityHigh:
		return tn.high
	case models.SeverityMedium:
		return tn.medium
	default:
		return tn.low
	}
}

// NotifyAlert implements Notifier.
func (tn *TerminalNotifier) NotifyAlert(_ context.Context, alert models.RiskAlert) error {
	var b strings.Builder
	if tn.bell && alert.Severity.Rank() >= models.SeverityHigh.Rank() {
		b.WriteString("\a")
	}
	b.WriteString(tn.muted.Sprint(alert.Timestamp.Format("15:04:05")))
	b.WriteString(" ")
	b.WriteString(tn.severityColor(alert.Severity).Sprintf("%-8s", strings.ToUpper(string(alert.Severity))))
	b.WriteString(" ")
	b.WriteString(alert.Message)
	b.WriteString("\n")
	return tn.write(b.String())
}

// NotifyOrderEvent implements Notifier.
func (tn *TerminalNotifier) NotifyOrderEvent(_ context.Context, ev models.OrderEvent) error {
	c := tn.muted
	if ev.Type == models.EventOrderTriggered {
		c = tn.loss
		if ev.Kind == models.OrderKindTakeProfit {
			c = tn.profit
		}
	}
	line := fmt.Sprintf("%s %s %s %s qty %g @ %.2f (level %.2f)\n",
		tn.muted.Sprint(ev.Timestamp.Format("15:04:05")),
		c.Sprintf("%-8s", strings.ToUpper(strings.TrimPrefix(string(ev.Type), "order_"))),
		ev.Kind, ev.Symbol, ev.Quantity, ev.Price, ev.Level)
	return tn.write(line)
}

func (tn *TerminalNotifier) write(s string) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	_, err := io.WriteString(tn.out, s)
	return err
}
