package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/model"
)

const defaultWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// WeatherOptions parameterise the OpenWeather forecast fetcher.
type WeatherOptions struct {
	BaseURL     string
	APIKey      string
	CountryCode string
	Timeout     time.Duration
}

// OpenWeather fetches 3-hourly forecasts from OpenWeather.
type OpenWeather struct {
	opts    WeatherOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewOpenWeather constructs a weather fetcher.
func NewOpenWeather(opts WeatherOptions, logger zerolog.Logger) *OpenWeather {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultWeatherBaseURL
	}
	if opts.CountryCode == "" {
		opts.CountryCode = "IN"
	}
	return &OpenWeather{
		opts:    opts,
		logger:  logger.With().Str("component", "weather_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Forecast returns the upcoming forecast slots for city.
func (w *OpenWeather) Forecast(ctx context.Context, city string) (model.WeatherForecast, error) {
	if w.opts.APIKey == "" {
		return model.WeatherForecast{}, fmt.Errorf("%w: openweather api key missing", ErrNotConfigured)
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return model.WeatherForecast{}, errors.New("city required")
	}

	params := url.Values{}
	params.Set("q", city+","+w.opts.CountryCode)
	params.Set("appid", w.opts.APIKey)
	params.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/forecast?"+params.Encode(), nil)
	if err != nil {
		return model.WeatherForecast{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return model.WeatherForecast{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.WeatherForecast{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.WeatherForecast{}, fmt.Errorf("openweather forecast: %w", parseHTTPError(resp.StatusCode, body))
	}

	var res forecastResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return model.WeatherForecast{}, fmt.Errorf("decode forecast: %w", err)
	}
	if len(res.List) == 0 {
		return model.WeatherForecast{}, ErrEmptyPayload
	}

	out := model.WeatherForecast{City: res.City.Name, Periods: make([]model.WeatherPeriod, 0, len(res.List))}
	if out.City == "" {
		out.City = city
	}
	for _, item := range res.List {
		period := model.WeatherPeriod{Time: time.Unix(item.Dt, 0).UTC()}
		if item.Rain != nil {
			period.RainMM = model.Float(item.Rain.ThreeHour)
		}
		out.Periods = append(out.Periods, period)
	}

	w.logger.Debug().Str("city", out.City).Int("periods", len(out.Periods)).Msg("fetched weather forecast")
	return out, nil
}

type forecastResponse struct {
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	List []struct {
		Dt   int64 `json:"dt"`
		Rain *struct {
			ThreeHour float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
}

var _ WeatherSource = (*OpenWeather)(nil)
