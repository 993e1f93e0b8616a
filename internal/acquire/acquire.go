package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"crop-sell-advisor/internal/fetcher"
	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
	"crop-sell-advisor/internal/synthetic"
)

// ErrDataUnavailable is returned when not even synthetic data could be produced.
var ErrDataUnavailable = errors.New("no price data available")

// TierStatus is the outcome of one acquisition tier.
type TierStatus int

const (
	Miss TierStatus = iota
	Hit
	Error
)

func (s TierStatus) String() string {
	switch s {
	case Hit:
		return "hit"
	case Error:
		return "error"
	default:
		return "miss"
	}
}

// TierResult carries a tier outcome. Series is set on Hit, Err on Error.
type TierResult struct {
	Status TierStatus
	Series model.Series
	Err    error
}

func hit(series model.Series) TierResult { return TierResult{Status: Hit, Series: series} }
func miss() TierResult                   { return TierResult{Status: Miss} }
func failed(err error) TierResult        { return TierResult{Status: Error, Err: err} }

// Result is an acquired series, ascending by date with one point per day.
type Result struct {
	Series        model.Series
	Tier          model.DataTier
	RealDays      int
	SyntheticDays int
}

// Options tune the acquisition tiers.
type Options struct {
	// CacheMaxAge is how old the newest stored point may be for a cache hit.
	CacheMaxAge time.Duration
	// HybridThresholdDays is the number of unique real dates below which the
	// series is backfilled with synthetic points. Zero means the requested days.
	HybridThresholdDays int
	FetchLimit          int
	Timeout             time.Duration
}

// Acquirer obtains price series from the store, the remote source or the
// synthetic generator, in that order.
type Acquirer struct {
	store     storage.PriceHistoryStore
	source    fetcher.PriceSource
	generator *synthetic.Generator
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// Option customises an Acquirer.
type Option func(*Acquirer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Acquirer) {
		a.now = now
	}
}

// New constructs an acquirer. source may be nil, in which case the remote tier
// always misses.
func New(store storage.PriceHistoryStore, source fetcher.PriceSource, generator *synthetic.Generator, opts Options, logger zerolog.Logger, options ...Option) *Acquirer {
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = 24 * time.Hour
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 5000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	a := &Acquirer{
		store:     store,
		source:    source,
		generator: generator,
		opts:      opts,
		logger:    logger.With().Str("component", "acquirer").Logger(),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Acquire returns the most recent days of prices for crop. Remote failures
// never surface; they fall through to the next tier.
func (a *Acquirer) Acquire(ctx context.Context, crop string, days int, forceSynthetic bool) (Result, error) {
	if days <= 0 {
		return Result{}, fmt.Errorf("acquire %s: days must be positive, got %d", crop, days)
	}
	crop = model.NormalizeCrop(crop)
	key := fmt.Sprintf("%s|%d|%t", crop, days, forceSynthetic)

	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.acquire(ctx, crop, days, forceSynthetic)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	res.Series = append(model.Series(nil), res.Series...)
	return res, nil
}

func (a *Acquirer) acquire(ctx context.Context, crop string, days int, forceSynthetic bool) (Result, error) {
	today := model.Day(a.now())
	log := a.logger.With().Str("crop", crop).Int("days", days).Logger()

	cached := a.cacheTier(ctx, crop, days, today)
	switch cached.Status {
	case Hit:
		log.Debug().Int("points", len(cached.Series)).Msg("cache hit")
		if len(cached.Series) < days {
			log.Warn().Int("points", len(cached.Series)).Int("requested", days).Msg("cache hit shorter than requested window")
		}
		return summarize(cached.Series, model.TierCache), nil
	case Error:
		log.Warn().Err(cached.Err).Msg("price cache unavailable")
	}

	var real model.Series
	if !forceSynthetic {
		remote := a.remoteTier(ctx, crop)
		switch remote.Status {
		case Hit:
			real = remote.Series
		case Error:
			log.Warn().Err(remote.Err).Msg("remote price source failed, degrading")
		default:
			log.Warn().Msg("remote price source returned nothing usable, degrading")
		}
	}

	if len(real) > 0 {
		collapsed := real.CollapseByDate()
		threshold := a.opts.HybridThresholdDays
		if threshold <= 0 {
			threshold = days
		}
		if len(collapsed) >= threshold {
			log.Info().Int("unique_dates", len(collapsed)).Msg("using real prices")
			return summarize(collapsed.Tail(days), model.TierReal), nil
		}
		return a.stitch(ctx, crop, days, today, real), nil
	}

	series := a.generator.GenerateWindow(crop, today, days, nil)
	if len(series) == 0 {
		return Result{}, fmt.Errorf("acquire %s: %w", crop, ErrDataUnavailable)
	}
	log.Warn().Msg("falling back to synthetic prices")
	return summarize(series, model.TierSynthetic), nil
}

func (a *Acquirer) cacheTier(ctx context.Context, crop string, days int, today time.Time) TierResult {
	if a.store == nil {
		return miss()
	}
	rows, err := a.store.PricesSince(ctx, crop, today.AddDate(0, 0, -days))
	if err != nil {
		return failed(fmt.Errorf("read cached prices: %w", err))
	}
	series := rows.CollapseByDate()
	latest, ok := series.Latest()
	if !ok {
		return miss()
	}
	if a.now().Sub(latest.Date) >= a.opts.CacheMaxAge {
		return miss()
	}
	return hit(series.Tail(days))
}

func (a *Acquirer) remoteTier(ctx context.Context, crop string) TierResult {
	if a.source == nil {
		return miss()
	}
	fetchCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	payload, err := a.source.Fetch(fetchCtx, fetcher.CommodityName(crop), a.opts.FetchLimit, 0)
	if errors.Is(err, fetcher.ErrEmptyPayload) {
		return miss()
	}
	if err != nil {
		return failed(err)
	}

	series, dropped := fetcher.NormalizeRecords(crop, payload.Records)
	if dropped > 0 {
		a.logger.Debug().Str("crop", crop).Int("dropped", dropped).Msg("dropped malformed records")
	}
	if len(series) == 0 {
		return miss()
	}

	a.persist(ctx, crop, series, "real")
	return hit(series)
}

// stitch backfills the window ending today with synthetic points anchored at
// the mean real price. Dates covered by real data keep only the real point.
func (a *Acquirer) stitch(ctx context.Context, crop string, days int, today time.Time, real model.Series) Result {
	anchor := real.Mean()
	covered := make(map[string]struct{}, len(real))
	for _, p := range real {
		covered[p.DayKey()] = struct{}{}
	}

	window := a.generator.GenerateWindow(crop, today, days, &anchor)
	backfill := make(model.Series, 0, len(window))
	for _, p := range window {
		if _, ok := covered[p.DayKey()]; ok {
			continue
		}
		backfill = append(backfill, p)
	}

	combined := append(real.CollapseByDate(), backfill...).CollapseByDate().Tail(days)
	a.persist(ctx, crop, combined.FilterSource(model.SourceSynthetic), "synthetic")

	res := summarize(combined, model.TierHybrid)
	a.logger.Info().
		Str("crop", crop).
		Float64("anchor", anchor).
		Int("real_days", res.RealDays).
		Int("synthetic_days", res.SyntheticDays).
		Msg("stitched hybrid series")
	return res
}

func (a *Acquirer) persist(ctx context.Context, crop string, series model.Series, kind string) {
	if a.store == nil || len(series) == 0 {
		return
	}
	inserted, err := a.store.UpsertPrices(ctx, series)
	if err != nil {
		a.logger.Error().Err(err).Str("crop", crop).Str("kind", kind).Msg("persist prices failed")
		return
	}
	a.logger.Debug().Str("crop", crop).Str("kind", kind).Int64("inserted", inserted).Int("offered", len(series)).Msg("persisted prices")
}

func summarize(series model.Series, tier model.DataTier) Result {
	return Result{
		Series:        series,
		Tier:          tier,
		RealDays:      series.Count(model.SourceReal),
		SyntheticDays: series.Count(model.SourceSynthetic),
	}
}
