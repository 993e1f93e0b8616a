package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
)

// State is where a rule evaluation ended.
type State string

const (
	StateNoData     State = "no_data"
	StateSuppressed State = "suppressed"
	StateNotMet     State = "not_met"
	StateTriggered  State = "triggered"
)

var hundred = decimal.NewFromInt(100)

// GateOptions tune rule evaluation.
type GateOptions struct {
	Cooldown time.Duration
	// Lookback bounds how old the latest price may be.
	Lookback         time.Duration
	IncludeSynthetic bool
	Concurrency      int
}

// Outcome is the result of one rule evaluation. Event is set only when the
// rule triggered; DeliveryErr records a failed send after a successful claim.
type Outcome struct {
	State       State
	Event       *model.AlertEvent
	DeliveryErr error
}

// Gate evaluates alert rules against stored prices and emits at most one event
// per rule per cooldown window.
type Gate struct {
	prices   storage.PriceHistoryStore
	rules    storage.AlertRuleStore
	notifier Notifier
	audit    storage.NotificationStore
	opts     GateOptions
	logger   zerolog.Logger
}

// NewGate constructs an alert gate. audit may be nil.
func NewGate(prices storage.PriceHistoryStore, rules storage.AlertRuleStore, notifier Notifier, audit storage.NotificationStore, opts GateOptions, logger zerolog.Logger) *Gate {
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Hour
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 7 * 24 * time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Gate{
		prices:   prices,
		rules:    rules,
		notifier: notifier,
		audit:    audit,
		opts:     opts,
		logger:   logger.With().Str("component", "alert_gate").Logger(),
	}
}

// Evaluate runs one rule through lookup, cooldown, condition and claim. Only
// the caller whose claim succeeds sends the notification.
func (g *Gate) Evaluate(ctx context.Context, rule model.AlertRule, now time.Time) (Outcome, error) {
	log := g.logger.With().Str("rule_id", rule.ID.String()).Str("crop", rule.Crop).Logger()

	series, err := g.observed(ctx, rule, now)
	if err != nil {
		return Outcome{State: StateNoData}, fmt.Errorf("load prices for rule %s: %w", rule.ID, err)
	}
	latest, ok := series.Latest()
	if !ok {
		log.Debug().Msg("no price available for rule")
		return Outcome{State: StateNoData}, nil
	}

	if rule.CoolingDown(now, g.opts.Cooldown) {
		return Outcome{State: StateSuppressed}, nil
	}

	price := decimal.NewFromFloat(latest.Price)
	message, change, fired := g.check(rule, price, series, now)
	if !fired {
		return Outcome{State: StateNotMet}, nil
	}

	won, err := g.rules.ClaimAlertTrigger(ctx, rule.ID, now, g.opts.Cooldown)
	if err != nil {
		return Outcome{State: StateNotMet}, fmt.Errorf("claim rule %s: %w", rule.ID, err)
	}
	if !won {
		log.Debug().Msg("rule claimed elsewhere or cooling down")
		return Outcome{State: StateSuppressed}, nil
	}

	triggered := now
	rule.LastTriggeredAt = &triggered
	event := &model.AlertEvent{
		Rule:          rule,
		ObservedPrice: price,
		ChangePct:     change,
		Message:       message,
		Timestamp:     now,
	}

	note := Notification{
		UserID:    rule.UserID,
		Kind:      model.NotificationPriceAlert,
		Crop:      rule.Crop,
		Title:     fmt.Sprintf("%s Price Alert", strings.ToUpper(rule.Crop)),
		Message:   message,
		Priority:  alertPriority(rule, price),
		Price:     &price,
		Channels:  rule.Channels,
		Timestamp: now,
	}
	deliveryErr := Dispatch(ctx, g.notifier, g.audit, note, log)

	log.Info().Str("kind", string(rule.Kind)).Str("price", price.StringFixed(2)).Msg("alert triggered")
	return Outcome{State: StateTriggered, Event: event, DeliveryErr: deliveryErr}, nil
}

func (g *Gate) observed(ctx context.Context, rule model.AlertRule, now time.Time) (model.Series, error) {
	rows, err := g.prices.PricesSince(ctx, rule.Crop, model.Day(now.Add(-g.opts.Lookback)))
	if err != nil {
		return nil, err
	}
	if !g.opts.IncludeSynthetic {
		rows = rows.FilterSource(model.SourceReal)
	}
	return rows.FilterMarket(rule.Market).CollapseByDate(), nil
}

func (g *Gate) check(rule model.AlertRule, price decimal.Decimal, series model.Series, now time.Time) (string, *decimal.Decimal, bool) {
	switch rule.Kind {
	case model.AlertAbove:
		if price.GreaterThan(*rule.ThresholdPrice) {
			return fmt.Sprintf("Price ₹%s is above your threshold of ₹%s", price.StringFixed(2), rule.ThresholdPrice.StringFixed(2)), nil, true
		}
	case model.AlertBelow:
		if price.LessThan(*rule.ThresholdPrice) {
			return fmt.Sprintf("Price ₹%s is below your threshold of ₹%s", price.StringFixed(2), rule.ThresholdPrice.StringFixed(2)), nil, true
		}
	case model.AlertChange:
		pct, ok := changePct(series, now)
		if !ok {
			return "", nil, false
		}
		if pct.Abs().GreaterThanOrEqual(*rule.ThresholdPercent) {
			direction := "increased"
			if pct.IsNegative() {
				direction = "decreased"
			}
			return fmt.Sprintf("Price %s by %s%% (₹%s)", direction, pct.Abs().StringFixed(1), price.StringFixed(2)), &pct, true
		}
	}
	return "", nil, false
}

// changePct compares the newest point to the oldest one dated yesterday or
// later. It needs two distinct dates.
func changePct(series model.Series, now time.Time) (decimal.Decimal, bool) {
	since := model.Day(now).AddDate(0, 0, -1)
	var window model.Series
	for _, p := range series {
		if !p.Date.Before(since) {
			window = append(window, p)
		}
	}
	if len(window) < 2 {
		return decimal.Zero, false
	}
	prev := decimal.NewFromFloat(window[0].Price)
	if prev.IsZero() {
		return decimal.Zero, false
	}
	cur := decimal.NewFromFloat(window[len(window)-1].Price)
	return cur.Sub(prev).Div(prev).Mul(hundred), true
}

func alertPriority(rule model.AlertRule, price decimal.Decimal) Priority {
	threshold := decimal.Zero
	if rule.ThresholdPrice != nil {
		threshold = *rule.ThresholdPrice
	}
	if price.Sub(threshold).Abs().GreaterThan(hundred) {
		return PriorityHigh
	}
	return PriorityNormal
}

// SweepResult counts evaluation outcomes of one sweep.
type SweepResult struct {
	Checked    int
	Triggered  int
	Suppressed int
	NoData     int
	Failed     int
	Events     []model.AlertEvent
}

// Sweep evaluates every active rule. A failing rule is logged and skipped.
func (g *Gate) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	rules, err := g.rules.ListActiveRules(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list active rules: %w", err)
	}

	var (
		mu  sync.Mutex
		res SweepResult
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.opts.Concurrency)
	for _, rule := range rules {
		grp.Go(func() error {
			out, err := g.Evaluate(gctx, rule, now)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			if err != nil {
				res.Failed++
				g.logger.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("rule evaluation failed")
				return nil
			}
			switch out.State {
			case StateTriggered:
				res.Triggered++
				res.Events = append(res.Events, *out.Event)
			case StateSuppressed:
				res.Suppressed++
			case StateNoData:
				res.NoData++
			}
			return nil
		})
	}
	_ = grp.Wait()

	g.logger.Info().
		Int("checked", res.Checked).
		Int("triggered", res.Triggered).
		Int("suppressed", res.Suppressed).
		Int("failed", res.Failed).
		Msg("alert sweep complete")
	return res, nil
}
