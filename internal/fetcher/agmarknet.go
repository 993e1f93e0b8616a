package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultAgmarknetBaseURL = "https://api.data.gov.in/resource"
	defaultResourceID       = "9ef84268-d588-465a-a308-a864a43d0070"
)

// AgmarknetOptions parameterise the data.gov.in mandi price fetcher.
type AgmarknetOptions struct {
	BaseURL    string
	ResourceID string
	APIKey     string
	Timeout    time.Duration
	UserAgent  string
}

// Agmarknet fetches daily mandi prices published on data.gov.in.
type Agmarknet struct {
	opts     AgmarknetOptions
	logger   zerolog.Logger
	client   *http.Client
	endpoint string
}

// NewAgmarknet constructs a data.gov.in price fetcher.
func NewAgmarknet(opts AgmarknetOptions, logger zerolog.Logger) *Agmarknet {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAgmarknetBaseURL
	}
	resource := strings.Trim(opts.ResourceID, "/")
	if resource == "" {
		resource = defaultResourceID
	}

	return &Agmarknet{
		opts:     opts,
		logger:   logger.With().Str("component", "agmarknet_source").Logger(),
		client:   &http.Client{Timeout: timeout},
		endpoint: baseURL + "/" + resource,
	}
}

// Fetch retrieves one page of records for commodity. No retries are made.
func (a *Agmarknet) Fetch(ctx context.Context, commodity string, limit, offset int) (Payload, error) {
	if a.opts.APIKey == "" {
		return Payload{}, fmt.Errorf("%w: data.gov.in api key missing", ErrNotConfigured)
	}
	if limit <= 0 {
		limit = 1000
	}

	params := url.Values{}
	params.Set("api-key", a.opts.APIKey)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	if commodity != "" {
		params.Set("filters[Commodity]", commodity)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Payload{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "cropadvisor/1.0")
	}

	a.logger.Debug().Str("commodity", commodity).Int("limit", limit).Int("offset", offset).Msg("fetching mandi prices")

	resp, err := a.client.Do(req)
	if err != nil {
		return Payload{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Payload{}, parseHTTPError(resp.StatusCode, body)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode data.gov.in payload: %w", err)
	}
	if len(payload.Records) == 0 {
		return Payload{}, ErrEmptyPayload
	}

	a.logger.Info().Str("commodity", commodity).Int("records", len(payload.Records)).Msg("fetched mandi prices")
	return payload, nil
}

// Payload is the typed envelope returned by data.gov.in.
type Payload struct {
	Records []Record `json:"records"`
}

// Record is one raw mandi row. Field names differ in case between datasets,
// so decoding matches keys case-insensitively.
type Record struct {
	State       string
	District    string
	Market      string
	Commodity   string
	Variety     string
	ArrivalDate string
	MinPrice    string
	MaxPrice    string
	ModalPrice  string
}

// UnmarshalJSON decodes a record accepting string or numeric values.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		text, err := scalarString(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		switch strings.ToLower(key) {
		case "state":
			r.State = text
		case "district":
			r.District = text
		case "market":
			r.Market = text
		case "commodity":
			r.Commodity = text
		case "variety":
			r.Variety = text
		case "arrival_date":
			r.ArrivalDate = text
		case "min_price", "min_x0020_price":
			r.MinPrice = text
		case "max_price", "max_x0020_price":
			r.MaxPrice = text
		case "modal_price", "modal_x0020_price":
			r.ModalPrice = text
		}
	}
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	case '{', '[':
		return "", nil
	default:
		return string(trimmed), nil
	}
}

type apiErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var base error = errors.New("data.gov.in request failed")
	if status == http.StatusTooManyRequests {
		base = ErrRateLimited
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%w (%d): %s", base, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%w (%d): %s", base, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		text := strings.TrimSpace(string(payload))
		if len(text) > 200 {
			text = text[:200]
		}
		return fmt.Errorf("%w (%d): %s", base, status, text)
	}
	return fmt.Errorf("%w (%d)", base, status)
}

var _ PriceSource = (*Agmarknet)(nil)
