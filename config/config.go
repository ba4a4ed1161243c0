// Package config loads cashbook configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with CASHBOOK_ prefix (e.g. CASHBOOK_DATABASE_DSN)
//  2. Variables from a .env file in the working directory
//  3. cashbook.yaml
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Log      LogConfig
	Ledger   LedgerConfig
	Closing  ClosingConfig
	Notify   NotifyConfig
}

type AppConfig struct {
	Env string // development, production
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Driver string // sqlite, postgres, memory
	DSN    string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type LedgerConfig struct {
	AllowRegisteredDelete bool
	SalesCategory         string
	DepositEstimateRatio  decimal.Decimal
	MaxSummaryDays        int
}

type ClosingConfig struct {
	AutoEnabled   bool
	AutoAt        string // HH:MM, local time
	CheckInterval time.Duration
}

type NotifyConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Drivers accepted in database.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "./data/cashbook.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("ledger.allow_registered_delete", false)
	v.SetDefault("ledger.sales_category", "Ventas")
	v.SetDefault("ledger.deposit_estimate_ratio", "0.5")
	v.SetDefault("ledger.max_summary_days", 366)

	v.SetDefault("closing.auto_enabled", false)
	v.SetDefault("closing.auto_at", "23:55")
	v.SetDefault("closing.check_interval", time.Minute)

	v.SetDefault("notify.kafka_brokers", []string{})
	v.SetDefault("notify.kafka_topic", "cashbook.changes")
}

// Load reads configuration from the working directory and environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with an explicit directory for cashbook.yaml and .env.
func LoadFrom(dir string) (*Config, error) {
	envFile := strings.TrimSuffix(dir, "/") + "/.env"
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("cashbook")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CASHBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	ratio, err := decimal.NewFromString(v.GetString("ledger.deposit_estimate_ratio"))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger.deposit_estimate_ratio: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Env: v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetString("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			CORSOrigins:  splitList(v.GetStringSlice("http.cors_origins")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			DSN:    v.GetString("database.dsn"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Ledger: LedgerConfig{
			AllowRegisteredDelete: v.GetBool("ledger.allow_registered_delete"),
			SalesCategory:         v.GetString("ledger.sales_category"),
			DepositEstimateRatio:  ratio,
			MaxSummaryDays:        v.GetInt("ledger.max_summary_days"),
		},
		Closing: ClosingConfig{
			AutoEnabled:   v.GetBool("closing.auto_enabled"),
			AutoAt:        v.GetString("closing.auto_at"),
			CheckInterval: v.GetDuration("closing.check_interval"),
		},
		Notify: NotifyConfig{
			KafkaBrokers: splitList(v.GetStringSlice("notify.kafka_brokers")),
			KafkaTopic:   v.GetString("notify.kafka_topic"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver %q (want sqlite, postgres or memory)", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
	}
	if strings.TrimSpace(c.Ledger.SalesCategory) == "" {
		return fmt.Errorf("ledger.sales_category must not be empty")
	}
	if c.Ledger.DepositEstimateRatio.IsNegative() || c.Ledger.DepositEstimateRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("ledger.deposit_estimate_ratio must be within [0, 1]")
	}
	if c.Ledger.MaxSummaryDays < 1 {
		return fmt.Errorf("ledger.max_summary_days must be at least 1")
	}
	if _, err := time.Parse("15:04", c.Closing.AutoAt); err != nil {
		return fmt.Errorf("closing.auto_at %q is not HH:MM", c.Closing.AutoAt)
	}
	if c.Closing.CheckInterval <= 0 {
		return fmt.Errorf("closing.check_interval must be positive")
	}
	return nil
}

// IsProduction reports whether app.env is "production".
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
