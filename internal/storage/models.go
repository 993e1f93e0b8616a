package storage

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

var (
	//go:embed schema/postgres.sql
	postgresSchema string
	//go:embed schema/sqlite.sql
	sqliteSchema string
)

// PriceHistoryStore persists daily price observations keyed by crop, market and date.
type PriceHistoryStore interface {
	PricesSince(ctx context.Context, crop string, since time.Time) (model.Series, error)
	// UpsertPrices inserts points whose key is not yet stored and returns how
	// many rows were added. Existing rows are left untouched.
	UpsertPrices(ctx context.Context, points model.Series) (int64, error)
	CountPrices(ctx context.Context, crop string) (int64, error)
}

// AlertRuleStore manages alert rules and their trigger claims.
type AlertRuleStore interface {
	CreateRule(ctx context.Context, rule model.AlertRule) (model.AlertRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (model.AlertRule, error)
	ListRules(ctx context.Context, userID int64) ([]model.AlertRule, error)
	ListActiveRules(ctx context.Context) ([]model.AlertRule, error)
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error
	// ClaimAlertTrigger atomically sets last_triggered_at to now when the rule
	// is active and not within cooldown. It reports whether this caller won.
	ClaimAlertTrigger(ctx context.Context, id uuid.UUID, now time.Time, cooldown time.Duration) (bool, error)
}

// DecisionStore keeps the append-only decision audit trail.
type DecisionStore interface {
	InsertDecision(ctx context.Context, decision model.Decision) error
	ListRecentDecisions(ctx context.Context, crop string, limit int) ([]model.Decision, error)
}

// NotificationStore audits dispatched notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, rec model.NotificationRecord) error
	ListRecentNotifications(ctx context.Context, limit int) ([]model.NotificationRecord, error)
}

// WatchStore tracks (user, favourite crop) pairs for the daily analysis.
type WatchStore interface {
	UpsertWatch(ctx context.Context, watch model.Watch) error
	ListWatches(ctx context.Context) ([]model.Watch, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend aggregates every store the application needs.
type Backend interface {
	PriceHistoryStore
	AlertRuleStore
	DecisionStore
	NotificationStore
	WatchStore
	Migrate(ctx context.Context) error
	Close()
}

func schemaStatements(schema string) []string {
	parts := strings.Split(schema, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func joinChannels(channels []string) string {
	return strings.Join(channels, ",")
}

func splitChannels(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decimalString(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
