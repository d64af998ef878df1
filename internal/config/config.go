package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Service    ServiceConfig    `mapstructure:"service"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServiceConfig locates the remote health service and the monitored subject.
type ServiceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SubjectID      string        `mapstructure:"subject_id"`
	HistoryHours   int           `mapstructure:"history_hours"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs the two polling cadences.
type SchedulerConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	HistoryInterval  time.Duration `mapstructure:"history_interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// ThresholdsConfig overrides the alert limits.
type ThresholdsConfig struct {
	HeartRateMin          float64 `mapstructure:"heart_rate_min"`
	HeartRateMax          float64 `mapstructure:"heart_rate_max"`
	SpO2Min               float64 `mapstructure:"spo2_min"`
	RespiratoryRateMin    float64 `mapstructure:"respiratory_rate_min"`
	RespiratoryRateMax    float64 `mapstructure:"respiratory_rate_max"`
	SystolicMin           float64 `mapstructure:"systolic_min"`
	SystolicMax           float64 `mapstructure:"systolic_max"`
	FallInactivityMinutes float64 `mapstructure:"fall_inactivity_minutes"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the alert journal.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig configures the state feed.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	StateTTL      time.Duration `mapstructure:"state_ttl"`
}

// HTTPConfig configures the local status surface.
type HTTPConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VITALWATCH")
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
	v.SetDefault("app.name", "vitalwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("service.base_url", "http://localhost:8000")
	v.SetDefault("service.subject_id", "user123")
	v.SetDefault("service.history_hours", 24)
	v.SetDefault("service.request_timeout", "10s")
	v.SetDefault("service.user_agent", "vitalwatch/1.0")

	v.SetDefault("scheduler.snapshot_interval", "5s")
	v.SetDefault("scheduler.history_interval", "60s")
	v.SetDefault("scheduler.startup_delay", "0s")

	defaults := alerting.DefaultRules()
	v.SetDefault("thresholds.heart_rate_min", defaults.HeartRate.Min)
	v.SetDefault("thresholds.heart_rate_max", defaults.HeartRate.Max)
	v.SetDefault("thresholds.spo2_min", defaults.SpO2.Min)
	v.SetDefault("thresholds.respiratory_rate_min", defaults.RespiratoryRate.Min)
	v.SetDefault("thresholds.respiratory_rate_max", defaults.RespiratoryRate.Max)
	v.SetDefault("thresholds.systolic_min", defaults.Systolic.Min)
	v.SetDefault("thresholds.systolic_max", defaults.Systolic.Max)
	v.SetDefault("thresholds.fall_inactivity_minutes", defaults.FallInactivityMinutes)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "vitalwatch")
	v.SetDefault("redis.state_ttl", "5m")

	v.SetDefault("http.listen_addr", "")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("export.max_data_points", 1000)
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
	if strings.TrimSpace(c.Service.BaseURL) == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if strings.TrimSpace(c.Service.SubjectID) == "" {
		return fmt.Errorf("service.subject_id is required")
	}
	if c.Service.HistoryHours <= 0 {
		return fmt.Errorf("service.history_hours must be greater than zero")
	}
	if c.Scheduler.SnapshotInterval <= 0 {
		return fmt.Errorf("scheduler.snapshot_interval must be greater than zero")
	}
	if c.Scheduler.HistoryInterval <= 0 {
		return fmt.Errorf("scheduler.history_interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 1 {
		return fmt.Errorf("export.max_data_points must be greater than one")
	}
	t := c.Thresholds
	if t.HeartRateMin > t.HeartRateMax {
		return fmt.Errorf("thresholds.heart_rate_min cannot exceed heart_rate_max")
	}
	if t.RespiratoryRateMin > t.RespiratoryRateMax {
		return fmt.Errorf("thresholds.respiratory_rate_min cannot exceed respiratory_rate_max")
	}
	if t.SystolicMin > t.SystolicMax {
		return fmt.Errorf("thresholds.systolic_min cannot exceed systolic_max")
	}
	if t.FallInactivityMinutes < 0 {
		return fmt.Errorf("thresholds.fall_inactivity_minutes cannot be negative")
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
	return nil
}

// Rules converts the thresholds section into evaluator rules.
func (c *Config) Rules() alerting.Rules {
	t := c.Thresholds
	return alerting.Rules{
		HeartRate:             alerting.Range{Min: t.HeartRateMin, Max: t.HeartRateMax},
		SpO2:                  alerting.Range{Min: t.SpO2Min, Max: math.Inf(1)},
		RespiratoryRate:       alerting.Range{Min: t.RespiratoryRateMin, Max: t.RespiratoryRateMax},
		Systolic:              alerting.Range{Min: t.SystolicMin, Max: t.SystolicMax},
		FallInactivityMinutes: t.FallInactivityMinutes,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveHistoryHours returns either the CLI override or config default.
func (c *Config) ResolveHistoryHours(override int) int {
	if override > 0 {
		return override
	}
	return c.Service.HistoryHours
}
