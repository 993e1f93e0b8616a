package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crop-sell-advisor/internal/advisor"
	"crop-sell-advisor/internal/alerting"
	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/scheduler"
	"crop-sell-advisor/internal/storage"
)

// Job ids.
const (
	JobAlertSweep      = "alert_sweep"
	JobDailyAnalysis   = "daily_analysis"
	JobPriceCollection = "price_collection"
)

// DefaultSchedules fires the sweep hourly, the analysis at 06:00 and the price
// collection at 18:00.
var DefaultSchedules = map[string]string{
	JobAlertSweep:      "0 * * * *",
	JobDailyAnalysis:   "0 6 * * *",
	JobPriceCollection: "0 18 * * *",
}

// Analyzer produces a decision for one request and never fails.
type Analyzer interface {
	Analyze(ctx context.Context, req advisor.Request) model.Decision
}

var _ Analyzer = (*advisor.Advisor)(nil)

// Options tune the batch jobs.
type Options struct {
	TrackedCrops            []string
	RecommendationThreshold float64
	BatchLimit              int
	CollectDays             int
}

// Service 负责调度三个监控任务。
type Service struct {
	scheduler *scheduler.Scheduler
	gate      *alerting.Gate
	analyzer  Analyzer
	acquirer  advisor.Acquirer
	watches   storage.WatchStore
	notifier  alerting.Notifier
	audit     storage.NotificationStore
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// Deps groups the collaborators of the service. Any of them may be nil, in
// which case the jobs depending on it are skipped.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Gate      *alerting.Gate
	Analyzer  Analyzer
	Acquirer  advisor.Acquirer
	Watches   storage.WatchStore
	Notifier  alerting.Notifier
	Audit     storage.NotificationStore
}

// New constructs the monitoring service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.RecommendationThreshold <= 0 {
		opts.RecommendationThreshold = 0.6
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 4
	}
	if opts.CollectDays <= 0 {
		opts.CollectDays = 30
	}
	return &Service{
		scheduler: deps.Scheduler,
		gate:      deps.Gate,
		analyzer:  deps.Analyzer,
		acquirer:  deps.Acquirer,
		watches:   deps.Watches,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		opts:      opts,
		logger:    logger.With().Str("component", "monitor").Logger(),
		now:       time.Now,
	}
}

// RegisterJobs adds the three jobs to the scheduler. Missing entries in
// schedules fall back to DefaultSchedules.
func (s *Service) RegisterJobs(schedules map[string]string) error {
	if s.scheduler == nil {
		return errors.New("scheduler not configured")
	}
	bodies := map[string]scheduler.JobFunc{
		JobAlertSweep: func(ctx context.Context) error {
			_, err := s.SweepAlerts(ctx)
			return err
		},
		JobDailyAnalysis: func(ctx context.Context) error {
			_, err := s.DailyAnalysis(ctx)
			return err
		},
		JobPriceCollection: func(ctx context.Context) error {
			_, err := s.CollectPrices(ctx)
			return err
		},
	}
	ids := make([]string, 0, len(bodies))
	for id := range bodies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		spec := schedules[id]
		if spec == "" {
			spec = DefaultSchedules[id]
		}
		if err := s.scheduler.Register(scheduler.Job{ID: id, Spec: spec, Run: bodies[id]}); err != nil {
			return err
		}
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx)
}

// RunJob triggers a job immediately.
func (s *Service) RunJob(ctx context.Context, id string) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.RunNow(ctx, id)
}

// SweepAlerts evaluates every active alert rule once.
func (s *Service) SweepAlerts(ctx context.Context) (alerting.SweepResult, error) {
	if s.gate == nil {
		return alerting.SweepResult{}, errors.New("alert gate not configured")
	}
	return s.gate.Sweep(ctx, s.now().UTC())
}

// DailyReport summarises one daily analysis run.
type DailyReport struct {
	Analyzed int
	Notified int
	Failed   int
}

// DailyAnalysis re-analyses every watched (user, crop) pair and notifies the
// user when the decision is actionable and confident enough.
func (s *Service) DailyAnalysis(ctx context.Context) (DailyReport, error) {
	if s.analyzer == nil || s.watches == nil {
		return DailyReport{}, errors.New("daily analysis not configured")
	}
	watches, err := s.watches.ListWatches(ctx)
	if err != nil {
		return DailyReport{}, fmt.Errorf("list watches: %w", err)
	}
	s.logger.Info().Int("watches", len(watches)).Msg("running daily analysis")

	var (
		mu     sync.Mutex
		report DailyReport
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.opts.BatchLimit)
	for _, w := range watches {
		grp.Go(func() error {
			notified, ok := s.analyzeWatch(gctx, w)
			mu.Lock()
			defer mu.Unlock()
			report.Analyzed++
			if !ok {
				report.Failed++
			}
			if notified {
				report.Notified++
			}
			return nil
		})
	}
	_ = grp.Wait()

	s.logger.Info().
		Int("analyzed", report.Analyzed).
		Int("notified", report.Notified).
		Int("failed", report.Failed).
		Msg("daily analysis complete")
	if report.Failed > 0 {
		return report, fmt.Errorf("daily analysis: %d of %d watches failed", report.Failed, report.Analyzed)
	}
	return report, nil
}

func (s *Service) analyzeWatch(ctx context.Context, w model.Watch) (notified, ok bool) {
	log := s.logger.With().Int64("user_id", w.UserID).Str("crop", w.Crop).Logger()
	prefs := w.Preferences()
	d := s.analyzer.Analyze(ctx, advisor.Request{Crop: w.Crop, City: w.City, Preferences: &prefs})
	if d.Risk == model.RiskUnknown {
		log.Error().Str("reasoning", d.Reasoning).Msg("analysis failed for watch")
		return false, false
	}
	if !d.Actionable() || d.Confidence <= s.opts.RecommendationThreshold {
		log.Debug().Str("action", string(d.Action)).Float64("confidence", d.Confidence).Msg("no recommendation needed")
		return false, true
	}

	note := alerting.Recommendation(w, d, s.now().UTC())
	_ = alerting.Dispatch(ctx, s.notifier, s.audit, note, log)
	log.Info().Str("action", string(d.Action)).Float64("confidence", d.Confidence).Msg("recommendation created")
	return true, true
}

// CollectReport summarises one price collection run.
type CollectReport struct {
	Crops  int
	Failed []string
	Tiers  map[string]model.DataTier
}

// CollectPrices warms the price cache for every tracked and watched crop.
func (s *Service) CollectPrices(ctx context.Context) (CollectReport, error) {
	if s.acquirer == nil {
		return CollectReport{}, errors.New("acquirer not configured")
	}
	crops := s.collectionCrops(ctx)

	var (
		mu     sync.Mutex
		report = CollectReport{Crops: len(crops), Tiers: make(map[string]model.DataTier, len(crops))}
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.opts.BatchLimit)
	for _, crop := range crops {
		grp.Go(func() error {
			res, err := s.acquirer.Acquire(gctx, crop, s.opts.CollectDays, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, crop)
				s.logger.Error().Err(err).Str("crop", crop).Msg("price collection failed")
				return nil
			}
			report.Tiers[crop] = res.Tier
			s.logger.Info().Str("crop", crop).Str("tier", string(res.Tier)).Int("real_days", res.RealDays).Msg("prices collected")
			return nil
		})
	}
	_ = grp.Wait()
	sort.Strings(report.Failed)

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("price collection: %d of %d crops failed", len(report.Failed), len(crops))
	}
	return report, nil
}

func (s *Service) collectionCrops(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var crops []string
	add := func(c string) {
		c = model.NormalizeCrop(c)
		if c == "" {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		crops = append(crops, c)
	}
	for _, c := range s.opts.TrackedCrops {
		add(c)
	}
	if s.watches != nil {
		watches, err := s.watches.ListWatches(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("list watches failed, collecting tracked crops only")
		}
		for _, w := range watches {
			add(w.Crop)
		}
	}
	return crops
}
