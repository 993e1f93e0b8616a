package fetcher

import (
	"context"
	"errors"

	"crop-sell-advisor/internal/model"
)

var (
	// ErrEmptyPayload is returned when a source answers without usable records.
	ErrEmptyPayload = errors.New("source returned no records")
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("source rate limit exceeded")
	// ErrNotConfigured is returned when required credentials are missing.
	ErrNotConfigured = errors.New("source not configured")
)

// PriceSource retrieves raw mandi price records from a remote API.
type PriceSource interface {
	Fetch(ctx context.Context, commodity string, limit, offset int) (Payload, error)
}

// WeatherSource retrieves a short-term weather forecast for a city.
type WeatherSource interface {
	Forecast(ctx context.Context, city string) (model.WeatherForecast, error)
}
