package signals

import (
	"math"
	"strings"
	"testing"
	"time"

	"crop-sell-advisor/internal/model"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func preds(conf float64, prices ...float64) []model.Prediction {
	start := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	out := make([]model.Prediction, 0, len(prices))
	for i, p := range prices {
		out = append(out, model.Prediction{Date: start.AddDate(0, 0, i), Price: p, Confidence: conf})
	}
	return out
}

func TestPredictionSignal(t *testing.T) {
	cases := []struct {
		name     string
		current  float64
		preds    []model.Prediction
		wantType model.SignalType
		wantStr  float64
	}{
		{"涨幅超过10%", 100, preds(1, 101, 102, 103, 104, 105, 106, 115), model.Bullish, 0.75},
		{"涨幅封顶", 100, preds(0.5, 150), model.Bullish, 0.5},
		{"跌幅超过5%", 100, preds(0.8, 90), model.Bearish, 0.5 * 0.8},
		{"平稳", 100, preds(0.75, 103), model.Neutral, 0.3 * 0.75},
		{"无预测", 100, nil, model.Neutral, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := Prediction(tc.current, tc.preds)
			if sig.Type != tc.wantType || !approx(sig.Strength, tc.wantStr) {
				t.Fatalf("期望 %s/%.3f, 实际 %s/%.3f", tc.wantType, tc.wantStr, sig.Type, sig.Strength)
			}
			if sig.Source != model.SourceMLModel {
				t.Fatalf("来源应为 ML_MODEL, 实际 %s", sig.Source)
			}
		})
	}
}

func TestPredictionUsesSeventhPoint(t *testing.T) {
	// the 8th point would flip the signal if it were used
	sig := Prediction(100, preds(1, 100, 100, 100, 100, 100, 100, 100, 200))
	if sig.Type != model.Neutral {
		t.Fatalf("应使用第 7 个预测点, 实际信号 %s", sig.Type)
	}
	if sig := Prediction(100, nil); sig.Reason != "No prediction data available" {
		t.Fatalf("无预测时说明错误: %q", sig.Reason)
	}
}

func TestTrendSignal(t *testing.T) {
	cases := []struct {
		stats    TrendStats
		wantType model.SignalType
		wantStr  float64
		prefix   string
	}{
		{TrendStats{Change7d: 6, Change30d: 11}, model.Bullish, 0.8, "Strong upward trend"},
		{TrendStats{Change7d: -6, Change30d: -11}, model.Bearish, 0.8, "Strong downward trend"},
		{TrendStats{Change7d: 6, Change30d: -6}, model.Bullish, 0.6, "Price recovering"},
		{TrendStats{Change7d: 5, Change30d: 20}, model.Neutral, 0.3, "Stable trend"},
	}
	for _, tc := range cases {
		sig := Trend(tc.stats)
		if sig.Type != tc.wantType || sig.Strength != tc.wantStr || !strings.HasPrefix(sig.Reason, tc.prefix) {
			t.Fatalf("%+v: 实际 %s/%.1f %q", tc.stats, sig.Type, sig.Strength, sig.Reason)
		}
	}
}

func forecastWithRain(rainy, total int) model.WeatherForecast {
	fc := model.WeatherForecast{City: "Delhi"}
	for i := 0; i < total; i++ {
		p := model.WeatherPeriod{Time: time.Unix(int64(i)*10800, 0).UTC()}
		if i < rainy {
			p.RainMM = model.Float(2.5)
		}
		fc.Periods = append(fc.Periods, p)
	}
	return fc
}

func TestWeatherSignal(t *testing.T) {
	cases := []struct {
		crop     string
		rainy    int
		wantType model.SignalType
		wantStr  float64
	}{
		{"tomato", 2, model.Bullish, 0.7},
		{"Onion", 1, model.Neutral, 0.2},
		{"wheat", 3, model.Bearish, 0.4},
		{"rice", 2, model.Neutral, 0.2},
		{"cotton", 5, model.Neutral, 0.2},
	}
	for _, tc := range cases {
		sig := Weather(tc.crop, forecastWithRain(tc.rainy, 40))
		if sig.Type != tc.wantType || sig.Strength != tc.wantStr {
			t.Fatalf("%s 降雨 %d 天: 期望 %s/%.1f, 实际 %s/%.1f", tc.crop, tc.rainy, tc.wantType, tc.wantStr, sig.Type, sig.Strength)
		}
	}
}

func TestRainRatioOnlyInspectsFiveSlots(t *testing.T) {
	fc := forecastWithRain(0, 10)
	for i := 5; i < 10; i++ {
		fc.Periods[i].RainMM = model.Float(9)
	}
	if days, ratio := RainRatio(fc); days != 0 || ratio != 0 {
		t.Fatalf("只应统计前 5 个时段: %d %.2f", days, ratio)
	}
	if _, ratio := RainRatio(model.WeatherForecast{}); ratio != 0 {
		t.Fatal("空预报的降雨比例应为 0")
	}
}

func TestVolatilitySignal(t *testing.T) {
	if sig := Volatility(TrendStats{Volatility: 16}); sig.Type != model.Bearish || sig.Strength != 0.5 {
		t.Fatalf("高波动应为 BEARISH 0.5: %+v", sig)
	}
	if sig := Volatility(TrendStats{Volatility: 4}); sig.Type != model.Neutral || sig.Strength != 0.3 {
		t.Fatalf("低波动应为 NEUTRAL 0.3: %+v", sig)
	}
	if sig := Volatility(TrendStats{Volatility: 10}); sig.Type != model.Neutral || sig.Strength != 0.4 {
		t.Fatalf("中等波动应为 NEUTRAL 0.4: %+v", sig)
	}
}

func series(prices ...float64) model.Series {
	start := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	out := make(model.Series, 0, len(prices))
	for i, p := range prices {
		out = append(out, model.PricePoint{Date: start.AddDate(0, 0, i), Price: p})
	}
	return out
}

func TestComputeTrend(t *testing.T) {
	if got := ComputeTrend(series(1, 2, 3, 4, 5, 6)); got != (TrendStats{}) {
		t.Fatalf("少于 7 个点应返回零值, 实际 %+v", got)
	}

	stats := ComputeTrend(series(100, 100, 100, 100, 100, 100, 110))
	if !approx(stats.Change7d, 10) {
		t.Fatalf("7 日涨幅应为 10%%, 实际 %v", stats.Change7d)
	}
	if stats.Change30d != 0 {
		t.Fatalf("不足 30 点时 30 日涨幅应为 0, 实际 %v", stats.Change30d)
	}
	mean := 710.0 / 7
	var sq float64
	for _, p := range []float64{100, 100, 100, 100, 100, 100, 110} {
		sq += (p - mean) * (p - mean)
	}
	want := math.Sqrt(sq/6) / mean * 100
	if !approx(stats.Volatility, want) {
		t.Fatalf("波动率应为样本标准差/均值: 期望 %v, 实际 %v", want, stats.Volatility)
	}

	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	long := ComputeTrend(series(prices...))
	if !approx(long.Change30d, 29) {
		t.Fatalf("30 日涨幅应为 29%%, 实际 %v", long.Change30d)
	}
}
