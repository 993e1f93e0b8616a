package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/model"
)

// AlertOptions describe a new alert rule.
type AlertOptions struct {
	UserID    int64
	Crop      string
	Market    string
	Kind      string
	Threshold string
	Channels  []string
}

// WatchOptions describe a tracked crop for the daily analysis.
type WatchOptions struct {
	UserID        int64
	Crop          string
	City          string
	RiskTolerance string
	Channels      []string
}

// AddAlert validates and stores a new alert rule.
func (a *App) AddAlert(ctx context.Context, opts AlertOptions) (model.AlertRule, error) {
	rule, err := a.buildRule(opts)
	if err != nil {
		return model.AlertRule{}, err
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return model.AlertRule{}, err
	}
	defer closeStore()

	created, err := store.CreateRule(ctx, rule)
	if err != nil {
		return model.AlertRule{}, err
	}
	a.Logger.Info().
		Str("rule_id", created.ID.String()).
		Str("crop", created.Crop).
		Str("kind", string(created.Kind)).
		Msg("alert rule created")
	return created, nil
}

func (a *App) buildRule(opts AlertOptions) (model.AlertRule, error) {
	kind, err := model.ParseAlertKind(opts.Kind)
	if err != nil {
		return model.AlertRule{}, err
	}
	threshold, err := decimal.NewFromString(strings.TrimSpace(opts.Threshold))
	if err != nil {
		return model.AlertRule{}, fmt.Errorf("%w: threshold %q is not a number", model.ErrInvalidRule, opts.Threshold)
	}

	channels := opts.Channels
	if len(channels) == 0 {
		channels = a.Config.Alerting.Channels
	}
	rule := model.AlertRule{
		UserID:   opts.UserID,
		Crop:     opts.Crop,
		Market:   strings.TrimSpace(opts.Market),
		Kind:     kind,
		Channels: channels,
		Active:   true,
	}
	if kind == model.AlertChange {
		rule.ThresholdPercent = &threshold
	} else {
		rule.ThresholdPrice = &threshold
	}
	return rule, rule.Validate()
}

// ListAlerts prints the rules of a user, or all rules when userID is zero.
func (a *App) ListAlerts(ctx context.Context, userID int64) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rules, err := store.ListRules(ctx, userID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(os.Stdout, "no alert rules found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tUser\tCrop\tMarket\tKind\tThreshold\tChannels\tActive\tLast Triggered (UTC)")
	for _, rule := range rules {
		threshold := "-"
		switch {
		case rule.ThresholdPrice != nil:
			threshold = rule.ThresholdPrice.String()
		case rule.ThresholdPercent != nil:
			threshold = rule.ThresholdPercent.String() + "%"
		}
		last := "-"
		if rule.LastTriggeredAt != nil {
			last = rule.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			rule.ID, rule.UserID, rule.Crop, orDash(rule.Market), rule.Kind, threshold,
			strings.Join(rule.Channels, ","), rule.Active, last)
	}
	return writer.Flush()
}

// SetAlertActive enables or disables a rule.
func (a *App) SetAlertActive(ctx context.Context, rawID string, active bool) error {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return fmt.Errorf("parse rule id: %w", err)
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.SetRuleActive(ctx, id, active); err != nil {
		return err
	}
	a.Logger.Info().Str("rule_id", id.String()).Bool("active", active).Msg("alert rule updated")
	return nil
}

// AddWatch stores or replaces a (user, crop) watch.
func (a *App) AddWatch(ctx context.Context, opts WatchOptions) error {
	if strings.TrimSpace(opts.Crop) == "" {
		return errors.New("crop is required")
	}
	watch := model.Watch{
		UserID:   opts.UserID,
		Crop:     opts.Crop,
		City:     a.Config.ResolveCity(opts.City),
		Channels: opts.Channels,
	}
	if opts.RiskTolerance != "" {
		tolerance, err := model.ParseRiskTolerance(opts.RiskTolerance)
		if err != nil {
			return err
		}
		watch.RiskTolerance = tolerance
	}
	if len(watch.Channels) == 0 {
		watch.Channels = a.Config.Alerting.Channels
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.UpsertWatch(ctx, watch); err != nil {
		return err
	}
	a.Logger.Info().Int64("user_id", watch.UserID).Str("crop", model.NormalizeCrop(watch.Crop)).Msg("watch saved")
	return nil
}

// ListWatches prints every watched crop.
func (a *App) ListWatches(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	watches, err := store.ListWatches(ctx)
	if err != nil {
		return err
	}
	if len(watches) == 0 {
		fmt.Fprintln(os.Stdout, "no watches found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "User\tCrop\tCity\tRisk Tolerance\tChannels")
	for _, w := range watches {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n", w.UserID, w.Crop, orDash(w.City), w.RiskTolerance, strings.Join(w.Channels, ","))
	}
	return writer.Flush()
}
