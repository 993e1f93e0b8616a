package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/signals"
)

const (
	strongSignalScore = 1.5
	waitFallbackDays  = 7
	waitFallbackRatio = 1.1
)

// LowToleranceNote is appended to the reasoning when a WAIT is forced to SELL_NOW.
const LowToleranceNote = "\n\n[WARNING] Adjusted to SELL_NOW based on your low risk tolerance."

// Input carries everything one analysis needs. Weather and Preferences are optional.
type Input struct {
	Crop         string
	CurrentPrice float64
	Predictions  []model.Prediction
	Trend        signals.TrendStats
	Weather      *model.WeatherForecast
	Preferences  *model.UserPreferences
}

// Engine fuses market signals into a sell decision.
type Engine struct {
	now func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for target dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New returns a decision engine.
func New(options ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Signals evaluates the ordered signal list for in: prediction, trend, weather
// when a forecast is present, then volatility.
func Signals(in Input) []model.MarketSignal {
	out := make([]model.MarketSignal, 0, 4)
	out = append(out, signals.Prediction(in.CurrentPrice, in.Predictions))
	out = append(out, signals.Trend(in.Trend))
	if in.Weather != nil {
		out = append(out, signals.Weather(in.Crop, *in.Weather))
	}
	out = append(out, signals.Volatility(in.Trend))
	return out
}

// Analyze evaluates every signal for in and decides.
func (e *Engine) Analyze(in Input) model.Decision {
	return e.Decide(in.Crop, in.CurrentPrice, in.Predictions, Signals(in), in.Preferences)
}

// Decide applies the decision rules to an explicit signal list. The first
// matching rule wins: strong bearish sells, strong bullish waits, else hold.
func (e *Engine) Decide(crop string, current float64, preds []model.Prediction, sigs []model.MarketSignal, prefs *model.UserPreferences) model.Decision {
	now := e.now().UTC()
	bullish, bearish := Scores(sigs)

	d := model.Decision{
		ID:           uuid.New(),
		Crop:         model.NormalizeCrop(crop),
		CurrentPrice: current,
		Confidence:   confidence(bullish, bearish, len(sigs)),
		BullishScore: bullish,
		BearishScore: bearish,
		Signals:      append([]model.MarketSignal(nil), sigs...),
		CreatedAt:    now,
	}

	switch {
	case bearish > strongSignalScore:
		d.Action, d.Risk = model.ActionSellNow, model.RiskHigh
		today := model.Day(now)
		d.TargetDate, d.TargetPrice = &today, model.Float(current)
	case bullish > strongSignalScore:
		d.Action, d.Risk = model.ActionWait, model.RiskLow
		if peak, ok := Peak(preds); ok {
			date := peak.Date
			d.TargetDate, d.TargetPrice = &date, model.Float(peak.Price)
		} else {
			date := model.Day(now).AddDate(0, 0, waitFallbackDays)
			d.TargetDate, d.TargetPrice = &date, model.Float(current*waitFallbackRatio)
		}
	default:
		d.Action, d.Risk = model.ActionHold, model.RiskMedium
	}
	d.Reasoning = FormatReasoning(sigs, d.Action)

	if prefs != nil && prefs.RiskTolerance == model.ToleranceLow && d.Action == model.ActionWait {
		d.Action = model.ActionSellNow
		d.Reasoning += LowToleranceNote
	}
	return d
}

// Scores sums signal strengths by direction.
func Scores(sigs []model.MarketSignal) (bullish, bearish float64) {
	for _, s := range sigs {
		switch s.Type {
		case model.Bullish:
			bullish += s.Strength
		case model.Bearish:
			bearish += s.Strength
		}
	}
	return bullish, bearish
}

func confidence(bullish, bearish float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Min(1, (bullish+bearish)/float64(count))
}

// Peak returns the highest priced prediction; ties keep the earliest.
func Peak(preds []model.Prediction) (model.Prediction, bool) {
	if len(preds) == 0 {
		return model.Prediction{}, false
	}
	best := preds[0]
	for _, p := range preds[1:] {
		if p.Price > best.Price {
			best = p
		}
	}
	return best, true
}

// FormatReasoning renders the deterministic explanation of a decision.
func FormatReasoning(sigs []model.MarketSignal, action model.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Decision: %s**\n\n**Analysis:**", action)
	for i, s := range sigs {
		fmt.Fprintf(&b, "\n%d. %s %s (Confidence: %.0f%%)", i+1, marker(s.Type), s.Reason, s.Strength*100)
	}
	b.WriteString("\n\n**Recommendation:** ")
	switch action {
	case model.ActionSellNow:
		b.WriteString("Sell immediately to avoid losses or lock in profits.")
	case model.ActionWait:
		b.WriteString("Hold your stock. Price is expected to rise further.")
	default:
		b.WriteString("Monitor the market. No urgent action needed.")
	}
	return b.String()
}

func marker(t model.SignalType) string {
	switch t {
	case model.Bullish:
		return "[UP]"
	case model.Bearish:
		return "[DOWN]"
	default:
		return "[RIGHT]"
	}
}

// Failure is the decision returned when analysis hits an internal fault.
func Failure(crop string, err error, now time.Time) model.Decision {
	return model.Decision{
		ID:         uuid.New(),
		Crop:       model.NormalizeCrop(crop),
		Action:     model.ActionHold,
		Confidence: 0,
		Risk:       model.RiskUnknown,
		Reasoning:  fmt.Sprintf("Analysis failed: %v", err),
		CreatedAt:  now.UTC(),
	}
}
