package advisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/acquire"
	"crop-sell-advisor/internal/engine"
	"crop-sell-advisor/internal/fetcher"
	"crop-sell-advisor/internal/forecast"
	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/signals"
	"crop-sell-advisor/internal/storage"
)

const minHistoryDays = 30

// Acquirer supplies price history.
type Acquirer interface {
	Acquire(ctx context.Context, crop string, days int, forceSynthetic bool) (acquire.Result, error)
}

var _ Acquirer = (*acquire.Acquirer)(nil)

// Explainer rewrites a finished decision into farmer-facing prose. It must
// never alter the decision itself.
type Explainer interface {
	Explain(ctx context.Context, d model.Decision) (string, error)
}

// Options tune the analysis pipeline.
type Options struct {
	DaysAhead      int
	DefaultCity    string
	WeatherTimeout time.Duration
}

// Request describes one analysis.
type Request struct {
	Crop           string
	City           string
	DaysAhead      int
	Preferences    *model.UserPreferences
	ForceSynthetic bool
}

// Advisor runs acquisition, forecasting and the decision engine for a crop.
type Advisor struct {
	acquirer   Acquirer
	forecaster forecast.Forecaster
	weather    fetcher.WeatherSource
	decisions  storage.DecisionStore
	engine     *engine.Engine
	explainer  Explainer
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

// Option customises an Advisor.
type Option func(*Advisor)

// WithExplainer installs a prettifier for Decision.Insights.
func WithExplainer(e Explainer) Option {
	return func(a *Advisor) {
		a.explainer = e
	}
}

// WithClock overrides the time source for the advisor and its engine.
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) {
		a.now = now
		a.engine = engine.New(engine.WithClock(now))
	}
}

// New constructs an advisor. weather and decisions may be nil.
func New(acq Acquirer, fc forecast.Forecaster, weather fetcher.WeatherSource, decisions storage.DecisionStore, opts Options, logger zerolog.Logger, options ...Option) *Advisor {
	if opts.DaysAhead <= 0 {
		opts.DaysAhead = 7
	}
	if opts.DefaultCity == "" {
		opts.DefaultCity = "Delhi"
	}
	if opts.WeatherTimeout <= 0 {
		opts.WeatherTimeout = 10 * time.Second
	}
	if fc == nil {
		fc = forecast.NewLinear(forecast.DefaultConfidence)
	}
	a := &Advisor{
		acquirer:   acq,
		forecaster: fc,
		weather:    weather,
		decisions:  decisions,
		engine:     engine.New(),
		opts:       opts,
		logger:     logger.With().Str("component", "advisor").Logger(),
		now:        time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// HistoryDays is the history window fetched for a forecast horizon.
func HistoryDays(daysAhead int) int {
	return max(minHistoryDays, 2*daysAhead)
}

// Analyze always returns a decision. Internal faults, panics included, yield
// HOLD with zero confidence and UNKNOWN risk.
func (a *Advisor) Analyze(ctx context.Context, req Request) (d model.Decision) {
	start := a.now()
	req = a.normalize(req)
	log := a.logger.With().Str("crop", req.Crop).Str("city", req.City).Int("days_ahead", req.DaysAhead).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("analysis panicked")
			d = engine.Failure(req.Crop, fmt.Errorf("internal error: %v", r), a.now())
		}
		d.City = req.City
		d.Duration = a.now().Sub(start)
		a.persist(ctx, d)
	}()

	res, err := a.acquirer.Acquire(ctx, req.Crop, HistoryDays(req.DaysAhead), req.ForceSynthetic)
	if err != nil {
		log.Error().Err(err).Msg("acquire prices failed")
		return engine.Failure(req.Crop, fmt.Errorf("acquire prices: %w", err), a.now())
	}
	latest, ok := res.Series.Latest()
	if !ok {
		return engine.Failure(req.Crop, acquire.ErrDataUnavailable, a.now())
	}

	preds := a.forecaster.Predict(res.Series, req.DaysAhead)
	if len(preds) == 0 {
		log.Warn().Msg("forecast unavailable, prediction signal will be neutral")
	}

	in := engine.Input{
		Crop:         req.Crop,
		CurrentPrice: latest.Price,
		Predictions:  preds,
		Trend:        signals.ComputeTrend(res.Series),
		Weather:      a.forecastWeather(ctx, req.City, log),
		Preferences:  req.Preferences,
	}
	d = a.engine.Analyze(in)
	d.DataTier = dataTier(res)
	d.Reasoning += tierNote(res)
	if len(preds) > 0 {
		d.PredictedPrice = model.Float(preds[len(preds)-1].Price)
	}
	d.Insights = a.explain(ctx, d, log)

	log.Info().
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Str("risk", string(d.Risk)).
		Str("tier", string(d.DataTier)).
		Msg("analysis complete")
	return d
}

func (a *Advisor) normalize(req Request) Request {
	req.Crop = model.NormalizeCrop(req.Crop)
	if req.City == "" {
		req.City = a.opts.DefaultCity
	}
	if req.DaysAhead <= 0 {
		req.DaysAhead = a.opts.DaysAhead
	}
	return req
}

func (a *Advisor) forecastWeather(ctx context.Context, city string, log zerolog.Logger) *model.WeatherForecast {
	if a.weather == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, a.opts.WeatherTimeout)
	defer cancel()
	fc, err := a.weather.Forecast(wctx, city)
	if err != nil {
		log.Warn().Err(err).Msg("weather forecast unavailable")
		return nil
	}
	return &fc
}

func (a *Advisor) explain(ctx context.Context, d model.Decision, log zerolog.Logger) string {
	if a.explainer == nil {
		return d.Reasoning
	}
	text, err := a.explainer.Explain(ctx, d)
	if err != nil || text == "" {
		log.Warn().Err(err).Msg("explainer failed, using reasoning")
		return d.Reasoning
	}
	return text
}

func (a *Advisor) persist(ctx context.Context, d model.Decision) {
	if a.decisions == nil {
		return
	}
	if err := a.decisions.InsertDecision(ctx, d); err != nil {
		a.logger.Error().Err(err).Str("crop", d.Crop).Msg("failed to persist decision")
	}
}

// dataTier reports what the analysed series is made of. A cache hit carries
// whatever an earlier acquisition stored, stitched rows included.
func dataTier(res acquire.Result) model.DataTier {
	if res.Tier != model.TierCache {
		return res.Tier
	}
	switch {
	case res.RealDays == 0:
		return model.TierSynthetic
	case res.SyntheticDays > 0:
		return model.TierHybrid
	default:
		return model.TierReal
	}
}

func tierNote(res acquire.Result) string {
	switch dataTier(res) {
	case model.TierHybrid:
		return fmt.Sprintf("\n\n[DATA] Based on %d days of market prices extended with %d days of estimated prices.", res.RealDays, res.SyntheticDays)
	case model.TierSynthetic:
		return "\n\n[DATA] Market prices were unavailable; this analysis uses estimated prices only."
	default:
		return fmt.Sprintf("\n\n[DATA] Based on %d days of market prices.", len(res.Series))
	}
}
