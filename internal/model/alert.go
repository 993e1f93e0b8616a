package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidRule marks an alert rule rejected at creation time.
var ErrInvalidRule = errors.New("invalid alert rule")

// AlertKind selects the trigger condition of a rule.
type AlertKind string

const (
	AlertAbove  AlertKind = "ABOVE"
	AlertBelow  AlertKind = "BELOW"
	AlertChange AlertKind = "CHANGE"
)

// ParseAlertKind accepts a case-insensitive kind name.
func ParseAlertKind(v string) (AlertKind, error) {
	switch kind := AlertKind(strings.ToUpper(strings.TrimSpace(v))); kind {
	case AlertAbove, AlertBelow, AlertChange:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, v)
	}
}

// AlertRule is a user-owned price alert. LastTriggeredAt is the only field the
// monitoring loop writes.
type AlertRule struct {
	ID               uuid.UUID
	UserID           int64
	Crop             string
	Market           string
	Kind             AlertKind
	ThresholdPrice   *decimal.Decimal
	ThresholdPercent *decimal.Decimal
	Channels         []string
	Active           bool
	LastTriggeredAt  *time.Time
	CreatedAt        time.Time
}

// Validate rejects rules whose kind and thresholds do not fit together.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.Crop) == "" {
		return fmt.Errorf("%w: crop is required", ErrInvalidRule)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidRule)
	}
	switch r.Kind {
	case AlertAbove, AlertBelow:
		if r.ThresholdPrice == nil || !r.ThresholdPrice.IsPositive() {
			return fmt.Errorf("%w: %s requires a positive threshold price", ErrInvalidRule, r.Kind)
		}
	case AlertChange:
		if r.ThresholdPercent == nil || !r.ThresholdPercent.IsPositive() {
			return fmt.Errorf("%w: CHANGE requires a positive threshold percent", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	return nil
}

// CoolingDown reports whether the rule fired less than cooldown before now.
func (r AlertRule) CoolingDown(now time.Time, cooldown time.Duration) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*r.LastTriggeredAt) < cooldown
}

// AlertEvent is produced by the gate when a rule fires. It is not persisted.
type AlertEvent struct {
	Rule          AlertRule
	ObservedPrice decimal.Decimal
	ChangePct     *decimal.Decimal
	Message       string
	Timestamp     time.Time
}

// Watch is a tracked (user, favourite crop) pair with its preferences.
type Watch struct {
	UserID        int64
	Crop          string
	City          string
	RiskTolerance RiskTolerance
	Channels      []string
}

// Preferences exposes the read-only preferences of the watch.
func (w Watch) Preferences() UserPreferences {
	return UserPreferences{RiskTolerance: w.RiskTolerance}
}

// NotificationKind classifies dispatched notifications.
type NotificationKind string

const (
	NotificationPriceAlert     NotificationKind = "price_alert"
	NotificationRecommendation NotificationKind = "agent_recommendation"
)

// NotificationRecord audits a notification after dispatch.
type NotificationRecord struct {
	ID        uuid.UUID
	UserID    int64
	Kind      NotificationKind
	Title     string
	Message   string
	Priority  string
	Channels  []string
	Delivered bool
	Error     *string
	CreatedAt time.Time
}
