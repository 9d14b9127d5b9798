package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Config is the process-wide configuration, bound from environment variables
// (COURSEKIT_* prefix) with a local .env as a development convenience.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	// TriggerSecret authenticates the scheduler-facing processing endpoint.
	// It is the only credential that entry point accepts.
	TriggerSecret string `mapstructure:"trigger_secret"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// TriggerRateLimit caps processing triggers per job per window. Zero
	// disables the limiter.
	TriggerRateLimit  int           `mapstructure:"trigger_rate_limit"`
	TriggerRateWindow time.Duration `mapstructure:"trigger_rate_window"`

	ExportRetentionDays int           `mapstructure:"export_retention_days"`
	SchedulerInterval   time.Duration `mapstructure:"scheduler_interval"`
	SchedulerBatchSize  int           `mapstructure:"scheduler_batch_size"`
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("coursekit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("trigger_rate_limit", 10)
	v.SetDefault("trigger_rate_window", time.Minute)
	v.SetDefault("export_retention_days", 30)
	v.SetDefault("scheduler_interval", time.Minute)
	v.SetDefault("scheduler_batch_size", 10)

	// Viper only reports env-bound keys through Get once they are known.
	keys := []string{
		"http_addr", "log_level", "database_dsn", "trigger_secret",
		"redis_addr", "redis_password", "redis_db",
		"trigger_rate_limit", "trigger_rate_window",
		"export_retention_days", "scheduler_interval", "scheduler_batch_size",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return Config{}, errors.New("COURSEKIT_DATABASE_DSN is required")
	}
	if cfg.ExportRetentionDays <= 0 {
		cfg.ExportRetentionDays = 30
	}
	if cfg.SchedulerBatchSize <= 0 {
		cfg.SchedulerBatchSize = 10
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = time.Minute
	}

	return cfg, nil
}
