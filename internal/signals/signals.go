// Package signals turns price, forecast and weather inputs into independent
// market signals. Every evaluator is a pure function.
package signals

import (
	"fmt"
	"math"
	"strings"

	"crop-sell-advisor/internal/model"
)

// Thresholds in percent.
const (
	priceRiseOpportunity = 10.0
	priceDropAlert       = -5.0
	highVolatility       = 15.0
	lowVolatility        = 5.0
)

const (
	// weatherHorizon is the number of forecast slots inspected for rain.
	weatherHorizon      = 5
	perishableRainRatio = 0.3
	grainRainRatio      = 0.5

	predictionHorizonIdx = 6
)

var (
	perishables = map[string]struct{}{"tomato": {}, "onion": {}, "potato": {}}
	grains      = map[string]struct{}{"wheat": {}, "rice": {}, "soyabean": {}}
)

// TrendStats summarises a trailing price window.
type TrendStats struct {
	Change7d   float64
	Change30d  float64
	Volatility float64
}

// ComputeTrend derives the 7 and 30 observation changes and the coefficient of
// variation of an ascending series. Fewer than 7 points yield zeros.
func ComputeTrend(series model.Series) TrendStats {
	prices := series.Prices()
	n := len(prices)
	if n < 7 {
		return TrendStats{}
	}

	var stats TrendStats
	last := prices[n-1]
	if base := prices[n-7]; base != 0 {
		stats.Change7d = (last - base) / base * 100
	}
	if n >= 30 && prices[0] != 0 {
		stats.Change30d = (last - prices[0]) / prices[0] * 100
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(n)
	var sq float64
	for _, p := range prices {
		sq += (p - mean) * (p - mean)
	}
	if mean != 0 {
		stats.Volatility = math.Sqrt(sq/float64(n-1)) / mean * 100
	}
	return stats
}

// Prediction compares current to the 7-day-ahead forecast point, or the last
// point when fewer are available. Strength is scaled by the mean confidence.
func Prediction(current float64, preds []model.Prediction) model.MarketSignal {
	if len(preds) == 0 || current <= 0 {
		return model.MarketSignal{
			Type:   model.Neutral,
			Reason: "No prediction data available",
			Source: model.SourceMLModel,
		}
	}

	future := preds[min(predictionHorizonIdx, len(preds)-1)].Price
	change := (future - current) / current * 100

	var confidence float64
	for _, p := range preds {
		confidence += p.Confidence
	}
	confidence /= float64(len(preds))

	sig := model.MarketSignal{Source: model.SourceMLModel}
	switch {
	case change > priceRiseOpportunity:
		sig.Type = model.Bullish
		sig.Strength = math.Min(1, change/20)
		sig.Reason = fmt.Sprintf("Price predicted to rise %+.1f%% in 7 days (Rs.%.2f → Rs.%.2f)", change, current, future)
	case change < priceDropAlert:
		sig.Type = model.Bearish
		sig.Strength = math.Min(1, math.Abs(change)/20)
		sig.Reason = fmt.Sprintf("Price predicted to drop %.1f%% in 7 days (Rs.%.2f → Rs.%.2f)", change, current, future)
	default:
		sig.Type = model.Neutral
		sig.Strength = 0.3
		sig.Reason = fmt.Sprintf("Price stable around Rs.%.2f (change: %+.1f%%)", current, change)
	}
	sig.Strength *= confidence
	return sig
}

// Trend classifies the trailing 7 and 30 day changes.
func Trend(stats TrendStats) model.MarketSignal {
	c7, c30 := stats.Change7d, stats.Change30d
	sig := model.MarketSignal{Source: model.SourceTrend}
	switch {
	case c7 > 5 && c30 > 10:
		sig.Type, sig.Strength = model.Bullish, 0.8
		sig.Reason = fmt.Sprintf("Strong upward trend: %+.1f%% (7d), %+.1f%% (30d)", c7, c30)
	case c7 < -5 && c30 < -10:
		sig.Type, sig.Strength = model.Bearish, 0.8
		sig.Reason = fmt.Sprintf("Strong downward trend: %.1f%% (7d), %.1f%% (30d)", c7, c30)
	case c7 > 5 && c30 < -5:
		sig.Type, sig.Strength = model.Bullish, 0.6
		sig.Reason = fmt.Sprintf("Price recovering: %+.1f%% this week after 30d decline", c7)
	default:
		sig.Type, sig.Strength = model.Neutral, 0.3
		sig.Reason = fmt.Sprintf("Stable trend: %+.1f%% (7d), %+.1f%% (30d)", c7, c30)
	}
	return sig
}

// RainRatio is the share of the next five forecast slots with rain.
func RainRatio(forecast model.WeatherForecast) (rainDays int, ratio float64) {
	if len(forecast.Periods) == 0 {
		return 0, 0
	}
	for _, p := range forecast.Periods[:min(weatherHorizon, len(forecast.Periods))] {
		if p.RainMM != nil {
			rainDays++
		}
	}
	return rainDays, float64(rainDays) / weatherHorizon
}

// Weather maps the rain outlook onto the expected supply effect for crop.
func Weather(crop string, forecast model.WeatherForecast) model.MarketSignal {
	crop = model.NormalizeCrop(crop)
	rainDays, ratio := RainRatio(forecast)
	sig := model.MarketSignal{Source: model.SourceWeather}

	_, perishable := perishables[crop]
	_, grain := grains[crop]
	switch {
	case perishable && ratio >= perishableRainRatio:
		sig.Type, sig.Strength = model.Bullish, 0.7
		sig.Reason = fmt.Sprintf("Heavy rain forecast (%d days). %s prices likely to spike due to supply disruption.", rainDays, title(crop))
	case grain && ratio > grainRainRatio:
		sig.Type, sig.Strength = model.Bearish, 0.4
		sig.Reason = fmt.Sprintf("Good rainfall forecast. %s supply will improve, prices may soften.", title(crop))
	default:
		sig.Type, sig.Strength = model.Neutral, 0.2
		sig.Reason = "Normal weather conditions. Minimal price impact expected."
	}
	return sig
}

// Volatility flags risky holding conditions.
func Volatility(stats TrendStats) model.MarketSignal {
	v := stats.Volatility
	sig := model.MarketSignal{Source: model.SourceVolatility}
	switch {
	case v > highVolatility:
		sig.Type, sig.Strength = model.Bearish, 0.5
		sig.Reason = fmt.Sprintf("High price volatility (%.1f%%). Risky to hold - consider selling.", v)
	case v < lowVolatility:
		sig.Type, sig.Strength = model.Neutral, 0.3
		sig.Reason = fmt.Sprintf("Low volatility (%.1f%%). Stable market conditions.", v)
	default:
		sig.Type, sig.Strength = model.Neutral, 0.4
		sig.Reason = fmt.Sprintf("Moderate volatility (%.1f%%). Normal market fluctuations.", v)
	}
	return sig
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
