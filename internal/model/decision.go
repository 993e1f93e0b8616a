package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignalType is the direction a market signal points to.
type SignalType string

const (
	Bullish SignalType = "BULLISH"
	Bearish SignalType = "BEARISH"
	Neutral SignalType = "NEUTRAL"
)

// SignalSource names the evaluator that produced a signal.
type SignalSource string

const (
	SourceMLModel    SignalSource = "ML_MODEL"
	SourceTrend      SignalSource = "HISTORICAL_TREND"
	SourceWeather    SignalSource = "WEATHER_FORECAST"
	SourceVolatility SignalSource = "VOLATILITY_INDEX"
)

// MarketSignal is one independent piece of evidence feeding a decision.
type MarketSignal struct {
	Type     SignalType   `json:"type"`
	Strength float64      `json:"strength"`
	Reason   string       `json:"reason"`
	Source   SignalSource `json:"source"`
}

// Action is the recommendation handed to the farmer.
type Action string

const (
	ActionSellNow Action = "SELL_NOW"
	ActionWait    Action = "WAIT"
	ActionHold    Action = "HOLD"
)

// Risk tiers attached to a decision.
type Risk string

const (
	RiskLow     Risk = "LOW"
	RiskMedium  Risk = "MEDIUM"
	RiskHigh    Risk = "HIGH"
	RiskUnknown Risk = "UNKNOWN"
)

// RiskTolerance is a user preference consumed by the engine.
type RiskTolerance string

const (
	ToleranceLow    RiskTolerance = "low"
	ToleranceMedium RiskTolerance = "medium"
	ToleranceHigh   RiskTolerance = "high"
)

// ParseRiskTolerance accepts a case-insensitive tolerance name.
func ParseRiskTolerance(v string) (RiskTolerance, error) {
	switch t := RiskTolerance(strings.ToLower(strings.TrimSpace(v))); t {
	case ToleranceLow, ToleranceMedium, ToleranceHigh:
		return t, nil
	default:
		return "", fmt.Errorf("unknown risk tolerance %q", v)
	}
}

// UserPreferences are read-only inputs to the decision engine.
type UserPreferences struct {
	RiskTolerance RiskTolerance
}

// DataTier describes which acquisition tier produced the analysed series.
type DataTier string

const (
	TierCache     DataTier = "cache"
	TierReal      DataTier = "real"
	TierHybrid    DataTier = "hybrid"
	TierSynthetic DataTier = "synthetic"
)

// Prediction is a single forecast point.
type Prediction struct {
	Date       time.Time
	Price      float64
	Confidence float64
}

// Decision is the immutable outcome of one analysis run.
type Decision struct {
	ID           uuid.UUID
	Crop         string
	City         string
	Action       Action
	Confidence   float64
	Risk         Risk
	Reasoning    string
	TargetDate   *time.Time
	TargetPrice  *float64
	CurrentPrice float64
	// PredictedPrice is the forecast at the end of the horizon.
	PredictedPrice *float64
	BullishScore   float64
	BearishScore   float64
	Signals        []MarketSignal
	DataTier       DataTier
	Insights       string
	Duration       time.Duration
	CreatedAt      time.Time
}

// Actionable reports whether the decision asks the farmer to do something.
func (d Decision) Actionable() bool {
	return d.Action == ActionSellNow || d.Action == ActionWait
}
