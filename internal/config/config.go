// Package config provides configuration loading for the teller CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	teller "github.com/genecyber/ether-teller"
	"github.com/genecyber/ether-teller/storage"
)

// EnvPrefix is prepended to every environment override, e.g.
// TELLER_STORAGE_TYPE.
const EnvPrefix = "TELLER"

// Config holds all configuration for the application.
type Config struct {
	Storage storage.Config `mapstructure:"storage"`
	Vault   VaultConfig    `mapstructure:"vault"`
	Log     LogConfig      `mapstructure:"log"`
}

var validate = validator.New()

// VaultConfig holds vault tuning.
type VaultConfig struct {
	DiagnosticsBuffer int           `mapstructure:"diagnostics_buffer" validate:"gte=0"`
	Concurrency       int           `mapstructure:"concurrency" validate:"gte=0"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout" validate:"gt=0"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required"`         // debug, info, warn, error
	Format string `mapstructure:"format" validate:"oneof=json text"` // json, text
}

// Load reads configuration from an optional file and environment variables.
// When path is empty, teller.yaml is searched for in the working directory,
// ./config and $HOME/.teller; a missing file is not an error. An explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("teller")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.teller")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values for all settings. Every key needs a
// default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.type", string(storage.TypeFile))
	v.SetDefault("storage.path", "./teller-data")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.bao_addr", "http://localhost:8200")
	v.SetDefault("storage.bao_token", "")
	v.SetDefault("storage.bao_namespace", "")
	v.SetDefault("storage.bao_mount", "secret")
	v.SetDefault("storage.bao_skip_tls_verify", false)
	v.SetDefault("storage.prefix", "teller:")

	// Vault defaults
	v.SetDefault("vault.diagnostics_buffer", teller.DefaultDiagnosticsBuffer)
	v.SetDefault("vault.concurrency", teller.DefaultConcurrency)
	v.SetDefault("vault.close_timeout", "10s")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// TellerConfig returns the library configuration for this config.
func (c *Config) TellerConfig(logger *slog.Logger, reg prometheus.Registerer) teller.Config {
	return teller.Config{
		Logger:            logger,
		Registerer:        reg,
		DiagnosticsBuffer: c.Vault.DiagnosticsBuffer,
		Concurrency:       c.Vault.Concurrency,
	}
}

// NewLogger builds a slog logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
