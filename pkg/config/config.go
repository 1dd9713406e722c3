// Package config loads service settings with viper and builds the zap logger.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/loanengine/pkg/payments"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. LOANENGINE_HTTP_ADDR.
const EnvPrefix = "LOANENGINE"

// Config holds all service configuration.
type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	DB       DB       `mapstructure:"db"`
	Log      Log      `mapstructure:"log"`
	Billing  Billing  `mapstructure:"billing"`
	Payments Payments `mapstructure:"payments"`
}

type HTTP struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type DB struct {
	Path string `mapstructure:"path" validate:"required"`
}

type Log struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// Billing holds the bill-day defaults applied to new loans.
type Billing struct {
	DefaultPreBillDays int `mapstructure:"default_pre_bill_days" validate:"gte=0"`
	DefaultDueBillDays int `mapstructure:"default_due_bill_days" validate:"gte=0"`
}

type Payments struct {
	Priority []string `mapstructure:"priority"`
	Strategy string   `mapstructure:"strategy"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.path", "loanengine.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("billing.default_pre_bill_days", 5)
	v.SetDefault("billing.default_due_bill_days", 0)
	v.SetDefault("payments.priority", []string{"interest", "fees", "principal"})
	v.SetDefault("payments.strategy", "fifo")
}

// Load reads configuration from path (YAML, JSON or TOML) when it is not
// empty, then applies LOANENGINE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.PaymentConfig(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PaymentConfig converts the payments section for the allocator.
func (c *Config) PaymentConfig() (payments.Config, error) {
	pc := payments.Config{Strategy: payments.Strategy(c.Payments.Strategy)}
	for _, p := range c.Payments.Priority {
		pc.Priority = append(pc.Priority, payments.Component(p))
	}
	if err := pc.Validate(); err != nil {
		return pc, err
	}
	return pc, nil
}

// NewLogger builds a zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
