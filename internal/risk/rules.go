package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "quantrisk/internal/errors"
	"quantrisk/internal/logging"
	"quantrisk/internal/models"
)

// Rule parameter keys.
const (
	ParamMaxPercent       = "max_percent"
	ParamMaxValue         = "max_value"
	ParamMaxLossPercent   = "max_loss_percent"
	ParamMaxSectorPercent = "max_sector_percent"
)

// RuleContext is the read-only view a rule is evaluated against.
type RuleContext struct {
	Positions  []models.PortfolioPosition
	TotalValue float64
	// SectorAllocation is percent of TotalValue per sector.
	SectorAllocation map[string]float64
	Now              time.Time
}

// Violation is one match of a rule.
type Violation struct {
	Symbol  string
	Type    models.AlertType
	Message string
}

// Evaluator checks one rule against the portfolio.
type Evaluator func(rule models.RiskRule, rc *RuleContext) ([]Violation, error)

// RuleFault records a rule whose evaluation failed.
type RuleFault struct {
	RuleID   string
	RuleType models.RuleType
	Err      error
}

// RuleEvaluation is the outcome of one pass over the enabled rules.
type RuleEvaluation struct {
	Evaluated int
	Alerts    []models.RiskAlert
	Faults    []RuleFault
	// Unsupported lists enabled rules whose type has no evaluator.
	Unsupported []string
}

// ruleBook holds the configured rules and the evaluators by type.
type ruleBook struct {
	mu         sync.RWMutex
	rules      map[string]*models.RiskRule
	evaluators map[models.RuleType]Evaluator
}

func newRuleBook() *ruleBook {
	return &ruleBook{
		rules: make(map[string]*models.RiskRule),
		evaluators: map[models.RuleType]Evaluator{
			models.RulePositionSize:  evalPositionSize,
			models.RuleStopLoss:      evalStopLoss,
			models.RuleConcentration: evalConcentration,
		},
	}
}

func (b *ruleBook) put(r models.RiskRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rule := copyRule(r)
	b.rules[r.ID] = &rule
}

func copyRule(r models.RiskRule) models.RiskRule {
	params := make(map[string]float64, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	r.Params = params
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		r.LastTriggered = &t
	}
	return r
}

func knownRuleType(t models.RuleType) bool {
	switch t {
	case models.RulePositionSize, models.RuleStopLoss, models.RuleDrawdown,
		models.RuleConcentration, models.RuleVariance:
		return true
	}
	return false
}

// RegisterEvaluator installs or replaces the evaluator for a rule type.
func (e *Engine) RegisterEvaluator(t models.RuleType, fn Evaluator) {
	e.rules.mu.Lock()
	defer e.rules.mu.Unlock()
	e.rules.evaluators[t] = fn
}

// AddRule validates and stores a rule. A missing ID is generated.
func (e *Engine) AddRule(rule models.RiskRule) (models.RiskRule, error) {
	if !knownRuleType(rule.Type) {
		e.rules.mu.RLock()
		_, custom := e.rules.evaluators[rule.Type]
		e.rules.mu.RUnlock()
		if !custom {
			return models.RiskRule{}, apperrors.NewValidationError("type", rule.Type, "unknown rule type")
		}
	}
	switch rule.Action {
	case "":
		rule.Action = models.RuleActionAlert
	case models.RuleActionAlert, models.RuleActionRestrict:
	default:
		return models.RiskRule{}, apperrors.NewValidationError("action", rule.Action, "action must be alert or restrict")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Name == "" {
		rule.Name = string(rule.Type)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = e.now()
	}

	e.rules.put(rule)
	saved := copyRule(rule)
	e.persist("rule", func(ctx context.Context, s Store) error { return s.SaveRule(ctx, &saved) })
	lg := logging.WithRule(e.logger, rule.ID, string(rule.Type))
	lg.Info().Str("name", rule.Name).Msg("Rule added")
	return copyRule(rule), nil
}

// SetRuleEnabled enables or disables a rule.
func (e *Engine) SetRuleEnabled(id string, enabled bool) (models.RiskRule, error) {
	e.rules.mu.Lock()
	r, ok := e.rules.rules[id]
	if !ok {
		e.rules.mu.Unlock()
		return models.RiskRule{}, apperrors.Wrapf(apperrors.ErrRuleNotFound, "rule %s", id)
	}
	r.Enabled = enabled
	saved := copyRule(*r)
	e.rules.mu.Unlock()

	e.persist("rule", func(ctx context.Context, s Store) error { return s.SaveRule(ctx, &saved) })
	return saved, nil
}

// RemoveRule deletes a rule.
func (e *Engine) RemoveRule(id string) error {
	e.rules.mu.Lock()
	_, ok := e.rules.rules[id]
	delete(e.rules.rules, id)
	e.rules.mu.Unlock()

	if !ok {
		return apperrors.Wrapf(apperrors.ErrRuleNotFound, "rule %s", id)
	}
	e.persist("rule", func(ctx context.Context, s Store) error { return s.DeleteRule(ctx, id) })
	return nil
}

// Rule returns one rule.
func (e *Engine) Rule(id string) (models.RiskRule, error) {
	e.rules.mu.RLock()
	defer e.rules.mu.RUnlock()
	r, ok := e.rules.rules[id]
	if !ok {
		return models.RiskRule{}, apperrors.Wrapf(apperrors.ErrRuleNotFound, "rule %s", id)
	}
	return copyRule(*r), nil
}

// Rules returns all rules, highest priority first.
func (e *Engine) Rules() []models.RiskRule {
	e.rules.mu.RLock()
	out := make([]models.RiskRule, 0, len(e.rules.rules))
	for _, r := range e.rules.rules {
		out = append(out, copyRule(*r))
	}
	e.rules.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EvaluateRules runs every enabled rule against positions at prices. A
// failing rule is recorded as a fault and the remaining rules still run.
func (e *Engine) EvaluateRules(positions []models.PortfolioPosition, prices map[string]float64) RuleEvaluation {
	start := time.Now()
	defer func() { e.metrics.ObserveRuleRun(time.Since(start)) }()

	rc := newRuleContext(applyPrices(positions, prices), e.now())
	var result RuleEvaluation

	for _, rule := range e.Rules() {
		if !rule.Enabled {
			continue
		}
		result.Evaluated++
		log := logging.WithRule(e.logger, rule.ID, string(rule.Type))

		e.rules.mu.RLock()
		fn, ok := e.rules.evaluators[rule.Type]
		e.rules.mu.RUnlock()
		if !ok {
			result.Unsupported = append(result.Unsupported, rule.ID)
			e.metrics.RuleEvaluated(string(rule.Type), "unsupported")
			log.Warn().Err(apperrors.ErrUnsupportedRule).Msg("Rule skipped")
			continue
		}

		violations, err := runEvaluator(fn, rule, rc)
		if err != nil {
			result.Faults = append(result.Faults, RuleFault{RuleID: rule.ID, RuleType: rule.Type, Err: err})
			e.metrics.RuleEvaluated(string(rule.Type), "fault")
			log.Error().Err(err).Msg("Rule evaluation failed")
			continue
		}
		if len(violations) == 0 {
			e.metrics.RuleEvaluated(string(rule.Type), "clean")
			continue
		}

		e.metrics.RuleEvaluated(string(rule.Type), "matched")
		for _, v := range violations {
			result.Alerts = append(result.Alerts, e.raise(models.RiskAlert{
				Type:     v.Type,
				Severity: severityFor(rule.Action),
				Symbol:   v.Symbol,
				Message:  v.Message,
				RuleID:   rule.ID,
			}))
		}
		e.markTriggered(rule.ID, len(violations), rc.Now)
	}

	return result
}

// runEvaluator converts a panic in fn into a rule error.
func runEvaluator(fn Evaluator, rule models.RiskRule, rc *RuleContext) (violations []Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			violations = nil
			err = apperrors.NewRuleError(rule.ID, string(rule.Type), fmt.Errorf("%w: panic: %v", apperrors.ErrRuleEvaluation, r))
		}
	}()

	violations, err = fn(copyRule(rule), rc)
	if err != nil {
		return nil, apperrors.NewRuleError(rule.ID, string(rule.Type), fmt.Errorf("%w: %w", apperrors.ErrRuleEvaluation, err))
	}
	return violations, nil
}

func (e *Engine) markTriggered(id string, n int, at time.Time) {
	e.rules.mu.Lock()
	r, ok := e.rules.rules[id]
	if !ok {
		e.rules.mu.Unlock()
		return
	}
	r.TriggerCount += n
	r.LastTriggered = &at
	saved := copyRule(*r)
	e.rules.mu.Unlock()

	e.persist("rule", func(ctx context.Context, s Store) error { return s.SaveRule(ctx, &saved) })
}

func severityFor(action models.RuleAction) models.Severity {
	if action == models.RuleActionRestrict {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

func newRuleContext(positions []models.PortfolioPosition, now time.Time) *RuleContext {
	rc := &RuleContext{
		Positions:        positions,
		SectorAllocation: make(map[string]float64),
		Now:              now,
	}
	bySector := make(map[string]float64)
	for _, p := range positions {
		if v := p.MarketValue(); v > 0 {
			rc.TotalValue += v
			sector := p.Sector
			if sector == "" {
				sector = "unclassified"
			}
			bySector[sector] += v
		}
	}
	if rc.TotalValue > 0 {
		for s, v := range bySector {
			rc.SectorAllocation[s] = v / rc.TotalValue * 100
		}
	}
	return rc
}

func requireParam(rule models.RiskRule, keys ...string) error {
	for _, k := range keys {
		if _, ok := rule.Params[k]; ok {
			return nil
		}
	}
	return apperrors.Wrapf(apperrors.ErrInvalidParams, "rule %s needs one of %v", rule.ID, keys)
}

// evalPositionSize flags positions above a percent-of-portfolio or an
// absolute value ceiling.
func evalPositionSize(rule models.RiskRule, rc *RuleContext) ([]Violation, error) {
	if err := requireParam(rule, ParamMaxPercent, ParamMaxValue); err != nil {
		return nil, err
	}
	maxPct, hasPct := rule.Params[ParamMaxPercent]
	maxVal, hasVal := rule.Params[ParamMaxValue]

	var out []Violation
	for _, p := range rc.Positions {
		v := p.MarketValue()
		if v <= 0 {
			continue
		}
		pct := 0.0
		if rc.TotalValue > 0 {
			pct = v / rc.TotalValue * 100
		}
		switch {
		case hasPct && pct > maxPct:
			out = append(out, Violation{
				Symbol:  p.Symbol,
				Type:    models.AlertPositionSize,
				Message: fmt.Sprintf("%s is %.1f%% of portfolio, above %.1f%% limit", p.Symbol, pct, maxPct),
			})
		case hasVal && v > maxVal:
			out = append(out, Violation{
				Symbol:  p.Symbol,
				Type:    models.AlertPositionSize,
				Message: fmt.Sprintf("%s position value %.2f exceeds %.2f limit", p.Symbol, v, maxVal),
			})
		}
	}
	return out, nil
}

// evalStopLoss flags positions whose unrealized loss exceeds a percent of
// cost. It only alerts; positions are never closed.
func evalStopLoss(rule models.RiskRule, rc *RuleContext) ([]Violation, error) {
	if err := requireParam(rule, ParamMaxLossPercent); err != nil {
		return nil, err
	}
	limit := rule.Params[ParamMaxLossPercent]

	var out []Violation
	for _, p := range rc.Positions {
		cost := p.CostBasis()
		if cost <= 0 {
			continue
		}
		lossPct := -p.UnrealizedPnL() / cost * 100
		if lossPct > limit {
			out = append(out, Violation{
				Symbol:  p.Symbol,
				Type:    models.AlertUnrealizedLoss,
				Message: fmt.Sprintf("%s unrealized loss %.1f%% exceeds %.1f%%", p.Symbol, lossPct, limit),
			})
		}
	}
	return out, nil
}

// evalConcentration flags sectors above an allocation ceiling.
func evalConcentration(rule models.RiskRule, rc *RuleContext) ([]Violation, error) {
	if err := requireParam(rule, ParamMaxSectorPercent); err != nil {
		return nil, err
	}
	limit := rule.Params[ParamMaxSectorPercent]

	sectors := make([]string, 0, len(rc.SectorAllocation))
	for s := range rc.SectorAllocation {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)

	var out []Violation
	for _, s := range sectors {
		if pct := rc.SectorAllocation[s]; pct > limit {
			out = append(out, Violation{
				Type:    models.AlertConcentration,
				Message: fmt.Sprintf("Sector %s is %.1f%% of portfolio, above %.1f%% limit", s, pct, limit),
			})
		}
	}
	return out, nil
}

// RunRules evaluates the rules every interval until ctx is done.
func (e *Engine) RunRules(ctx context.Context, interval time.Duration, source PositionSource) error {
	if interval <= 0 {
		interval = e.cfg.RuleInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			positions, err := source.Positions(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Msg("Could not load positions for rule evaluation")
				continue
			}
			res := e.EvaluateRules(positions, nil)
			e.logger.Debug().
				Int("evaluated", res.Evaluated).
				Int("alerts", len(res.Alerts)).
				Int("faults", len(res.Faults)).
				Int("unsupported", len(res.Unsupported)).
				Msg("Rule pass complete")
		}
	}
}
