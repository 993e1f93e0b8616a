package forecast

import (
	"crop-sell-advisor/internal/model"
)

// DefaultConfidence is attached to every point produced by LinearForecaster.
const DefaultConfidence = 0.75

// Forecaster predicts future prices from a history series. Implementations may
// return fewer points than requested, including none.
type Forecaster interface {
	Predict(series model.Series, daysAhead int) []model.Prediction
}

// LinearForecaster fits an ordinary least squares line through the prices by
// sample index and extends it daysAhead steps past the last observation.
type LinearForecaster struct {
	Confidence float64
}

var _ Forecaster = LinearForecaster{}

// NewLinear returns a linear forecaster; non-positive confidence falls back to
// DefaultConfidence.
func NewLinear(confidence float64) LinearForecaster {
	if confidence <= 0 || confidence > 1 {
		confidence = DefaultConfidence
	}
	return LinearForecaster{Confidence: confidence}
}

// Predict implements Forecaster. Dates run one per day after the newest point.
func (f LinearForecaster) Predict(series model.Series, daysAhead int) []model.Prediction {
	if daysAhead <= 0 || len(series) < 2 {
		return nil
	}
	series = append(model.Series(nil), series...).SortAscending()
	slope, intercept := fit(series.Prices())

	confidence := f.Confidence
	if confidence <= 0 {
		confidence = DefaultConfidence
	}

	last := series[len(series)-1].Day()
	n := len(series)
	out := make([]model.Prediction, 0, daysAhead)
	for i := 1; i <= daysAhead; i++ {
		price := intercept + slope*float64(n-1+i)
		if price < 0 {
			price = 0
		}
		out = append(out, model.Prediction{
			Date:       last.AddDate(0, 0, i),
			Price:      price,
			Confidence: confidence,
		})
	}
	return out
}

func fit(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	var sumX, sumY float64
	for i, y := range ys {
		sumX += float64(i)
		sumY += y
	}
	meanX, meanY := sumX/n, sumY/n

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0, meanY
	}
	slope = num / den
	return slope, meanY - slope*meanX
}
