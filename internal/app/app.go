package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/acquire"
	"crop-sell-advisor/internal/advisor"
	"crop-sell-advisor/internal/alerting"
	"crop-sell-advisor/internal/config"
	"crop-sell-advisor/internal/fetcher"
	"crop-sell-advisor/internal/forecast"
	"crop-sell-advisor/internal/monitor"
	"crop-sell-advisor/internal/scheduler"
	"crop-sell-advisor/internal/storage"
	"crop-sell-advisor/internal/synthetic"
	"crop-sell-advisor/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) requireStore(ctx context.Context) (storage.Backend, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) newPriceSource() fetcher.PriceSource {
	cfg := a.Config.Source
	if cfg.APIKey == "" {
		a.Logger.Warn().Msg("source.api_key not configured; remote prices disabled")
		return nil
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return fetcher.NewAgmarknet(fetcher.AgmarknetOptions{
		BaseURL:    cfg.BaseURL,
		ResourceID: cfg.ResourceID,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.RequestTimeout,
		UserAgent:  userAgent,
	}, a.Logger)
}

func (a *App) newWeatherSource() fetcher.WeatherSource {
	cfg := a.Config.Weather
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}
	return fetcher.NewOpenWeather(fetcher.WeatherOptions{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		CountryCode: cfg.CountryCode,
		Timeout:     cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newGenerator() (*synthetic.Generator, error) {
	var profiles synthetic.Profiles
	if path := a.Config.Crops.ProfilesFile; path != "" {
		loaded, err := synthetic.LoadProfiles(path)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}
	return synthetic.New(profiles), nil
}

func (a *App) newAcquirer(store storage.PriceHistoryStore) (*acquire.Acquirer, error) {
	gen, err := a.newGenerator()
	if err != nil {
		return nil, err
	}
	return acquire.New(store, a.newPriceSource(), gen, acquire.Options{
		CacheMaxAge:         a.Config.Acquisition.CacheMaxAge,
		HybridThresholdDays: a.Config.Acquisition.HybridThresholdDays,
		FetchLimit:          a.Config.Source.FetchLimit,
		Timeout:             a.Config.Source.RequestTimeout,
	}, a.Logger), nil
}

func (a *App) newAdvisor(acq advisor.Acquirer, decisions storage.DecisionStore) *advisor.Advisor {
	return advisor.New(
		acq,
		forecast.NewLinear(a.Config.Forecast.Confidence),
		a.newWeatherSource(),
		decisions,
		advisor.Options{
			DaysAhead:      a.Config.Forecast.DaysAhead,
			DefaultCity:    a.Config.Weather.DefaultCity,
			WeatherTimeout: a.Config.Weather.RequestTimeout,
		},
		a.Logger,
		advisor.WithExplainer(advisor.SummaryExplainer{}),
	)
}

func (a *App) newNotifier() *alerting.Router {
	router := alerting.NewRouter(a.Config.Alerting.Channels)
	router.Register(alerting.ChannelLog, alerting.NewLogNotifier(a.Logger))
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		router.Register(alerting.ChannelTelegram, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Alerting.Webhook.Enabled {
		cfg := a.Config.Alerting.Webhook
		router.Register(alerting.ChannelWebhook, alerting.NewWebhookNotifier(cfg.URL, cfg.Timeout, a.Logger))
	}
	return router
}

func (a *App) newMonitor(store storage.Backend) (*monitor.Service, error) {
	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve scheduler timezone: %w", err)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	sched := scheduler.New(scheduler.Options{
		Location:        loc,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
		Locker:          locker,
	}, a.Logger)

	acq, err := a.newAcquirer(store)
	if err != nil {
		return nil, err
	}
	notifier := a.newNotifier()
	gate := alerting.NewGate(store, store, notifier, store, alerting.GateOptions{
		Cooldown:         a.Config.Alerting.Cooldown,
		IncludeSynthetic: a.Config.Alerting.IncludeSynthetic,
		Concurrency:      a.Config.Scheduler.BatchLimit,
	}, a.Logger)

	svc := monitor.New(monitor.Deps{
		Scheduler: sched,
		Gate:      gate,
		Analyzer:  a.newAdvisor(acq, store),
		Acquirer:  acq,
		Watches:   store,
		Notifier:  notifier,
		Audit:     store,
	}, monitor.Options{
		TrackedCrops:            a.Config.Crops.Tracked,
		RecommendationThreshold: a.Config.Alerting.RecommendationThreshold,
		BatchLimit:              a.Config.Scheduler.BatchLimit,
	}, a.Logger)

	if err := svc.RegisterJobs(a.Config.Scheduler.Jobs); err != nil {
		return nil, err
	}
	return svc, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newMonitor(store)
	if err != nil {
		return err
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunJob triggers one monitoring job immediately and waits for it.
func (a *App) RunJob(ctx context.Context, id string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newMonitor(store)
	if err != nil {
		return err
	}
	return svc.RunJob(ctx, id)
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	Crop           string
	City           string
	DaysAhead      int
	RiskTolerance  string
	ForceSynthetic bool
	JSON           bool
}

// AcquireOptions configure the acquire command.
type AcquireOptions struct {
	Crop           string
	Days           int
	ForceSynthetic bool
}

// ExportOptions hold parameters for exporting a crop history and forecast.
type ExportOptions struct {
	Crop      string
	Days      int
	DaysAhead int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	What  string
	Crop  string
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Crops   []string
	Days    int
	DryRun  bool
	Workers int
}
