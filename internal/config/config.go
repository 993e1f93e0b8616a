package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"crop-sell-advisor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Source      SourceConfig      `mapstructure:"source"`
	Weather     WeatherConfig     `mapstructure:"weather"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Forecast    ForecastConfig    `mapstructure:"forecast"`
	Crops       CropsConfig       `mapstructure:"crops"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the monitoring jobs.
type SchedulerConfig struct {
	Timezone        string            `mapstructure:"timezone"`
	AdvisoryLockKey int64             `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration     `mapstructure:"startup_delay"`
	Jobs            map[string]string `mapstructure:"jobs"`
	BatchLimit      int               `mapstructure:"batch_limit"`
}

// Location resolves the configured timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// SourceConfig captures data.gov.in connectivity.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ResourceID     string        `mapstructure:"resource_id"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FetchLimit     int           `mapstructure:"fetch_limit"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// WeatherConfig captures OpenWeather connectivity.
type WeatherConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	CountryCode    string        `mapstructure:"country_code"`
	DefaultCity    string        `mapstructure:"default_city"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AcquisitionConfig tunes the tiered price acquisition.
type AcquisitionConfig struct {
	CacheMaxAge         time.Duration `mapstructure:"cache_max_age"`
	HybridThresholdDays int           `mapstructure:"hybrid_threshold_days"`
}

// ForecastConfig tunes the price forecaster.
type ForecastConfig struct {
	DaysAhead  int     `mapstructure:"days_ahead"`
	Confidence float64 `mapstructure:"confidence"`
}

// CropsConfig lists tracked crops and optional profile overrides.
type CropsConfig struct {
	Tracked      []string `mapstructure:"tracked"`
	ProfilesFile string   `mapstructure:"profiles_file"`
}

// AlertingConfig defines alert cooldowns and routing.
type AlertingConfig struct {
	Cooldown                time.Duration  `mapstructure:"cooldown"`
	RecommendationThreshold float64        `mapstructure:"recommendation_threshold"`
	IncludeSynthetic        bool           `mapstructure:"include_synthetic"`
	Channels                []string       `mapstructure:"channels"`
	Telegram                TelegramConfig `mapstructure:"telegram"`
	Webhook                 WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig targets a JSON webhook receiver.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CROPADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cropadvisor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "file:cropadvisor.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.timezone", "Asia/Kolkata")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63726f70))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.batch_limit", 4)
	v.SetDefault("scheduler.jobs", map[string]string{
		"alert_sweep":      "0 * * * *",
		"daily_analysis":   "0 6 * * *",
		"price_collection": "0 18 * * *",
	})

	v.SetDefault("source.base_url", "https://api.data.gov.in/resource")
	v.SetDefault("source.resource_id", "9ef84268-d588-465a-a308-a864a43d0070")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.request_timeout", "30s")
	v.SetDefault("source.fetch_limit", 5000)
	v.SetDefault("source.user_agent", "")

	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.country_code", "IN")
	v.SetDefault("weather.default_city", "Delhi")
	v.SetDefault("weather.request_timeout", "10s")

	v.SetDefault("acquisition.cache_max_age", "24h")
	v.SetDefault("acquisition.hybrid_threshold_days", 0)

	v.SetDefault("forecast.days_ahead", 7)
	v.SetDefault("forecast.confidence", 0.75)

	v.SetDefault("crops.tracked", []string{"wheat", "rice", "tomato", "onion", "potato"})

	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.recommendation_threshold", 0.6)
	v.SetDefault("alerting.include_synthetic", false)
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.webhook.url", "")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	for name, spec := range c.Scheduler.Jobs {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("scheduler.jobs.%s: %w", name, err)
		}
	}
	if c.Source.RequestTimeout <= 0 {
		return fmt.Errorf("source.request_timeout must be greater than zero")
	}
	if c.Acquisition.CacheMaxAge <= 0 {
		return fmt.Errorf("acquisition.cache_max_age must be greater than zero")
	}
	if c.Acquisition.HybridThresholdDays < 0 {
		return fmt.Errorf("acquisition.hybrid_threshold_days cannot be negative")
	}
	if c.Forecast.DaysAhead <= 0 {
		return fmt.Errorf("forecast.days_ahead must be greater than zero")
	}
	if c.Forecast.Confidence <= 0 || c.Forecast.Confidence > 1 {
		return fmt.Errorf("forecast.confidence must be in (0, 1]")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveCity returns the given city or the configured default.
func (c *Config) ResolveCity(city string) string {
	if strings.TrimSpace(city) != "" {
		return city
	}
	return c.Weather.DefaultCity
}
