package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenWeatherMissingKey(t *testing.T) {
	w := NewOpenWeather(WeatherOptions{}, noopLogger())
	if _, err := w.Forecast(context.Background(), "Delhi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("缺少 api key 时应返回 ErrNotConfigured, 实际 %v", err)
	}
}

func TestOpenWeatherForecast(t *testing.T) {
	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`{"city":{"name":"Delhi"},"list":[
			{"dt":1718000000,"rain":{"3h":1.5}},
			{"dt":1718010800},
			{"dt":1718021600,"rain":{"3h":0.2}}
		]}`))
	}))
	defer srv.Close()

	w := NewOpenWeather(WeatherOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, noopLogger())
	fc, err := w.Forecast(context.Background(), "Delhi")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gotQ != "Delhi,IN" {
		t.Fatalf("查询城市参数不正确: %q", gotQ)
	}
	if len(fc.Periods) != 3 {
		t.Fatalf("期望 3 个时段, 实际 %d", len(fc.Periods))
	}
	if fc.Periods[0].RainMM == nil || *fc.Periods[0].RainMM != 1.5 {
		t.Fatalf("第一时段应有降雨")
	}
	if fc.Periods[1].RainMM != nil {
		t.Fatalf("第二时段不应有降雨")
	}
}

func TestOpenWeatherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"cod":401,"message":"Invalid API key"}`))
	}))
	defer srv.Close()

	w := NewOpenWeather(WeatherOptions{BaseURL: srv.URL, APIKey: "bad"}, noopLogger())
	if _, err := w.Forecast(context.Background(), "Delhi"); err == nil {
		t.Fatal("HTTP 401 应返回错误")
	}
}
