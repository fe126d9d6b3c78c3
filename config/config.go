/*
Package config reads the server configuration.

SOURCES (highest precedence first):
  1. Command-line flags
  2. BILLING_* environment variables
  3. Defaults

FLAGS:
  -port         HTTP server port                    BILLING_PORT          (8080)
  -db           SQLite database path                BILLING_DB            (billing.db)
                Use ":memory:" for an in-memory database
  -log-level    debug, info, warn, error            BILLING_LOG_LEVEL     (info)
  -log-format   json or text                        BILLING_LOG_FORMAT    (json)
  -overpayment  reject, cap or allow                BILLING_OVERPAYMENT   (reject)
  -cache-ttl    client cache TTL, 0 disables it     BILLING_CACHE_TTL     (30s)
  -scenario     demo scenario loaded at startup     BILLING_SCENARIO      (none)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/logging"
)

const envPrefix = "BILLING_"

type Config struct {
	Port        int
	DBPath      string
	LogLevel    string
	LogFormat   logging.Format
	Overpayment billing.OverpaymentPolicy
	CacheTTL    time.Duration
	Scenario    string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:        8080,
		DBPath:      "billing.db",
		LogLevel:    "info",
		LogFormat:   logging.FormatJSON,
		Overpayment: billing.DefaultOverpaymentPolicy,
		CacheTTL:    30 * time.Second,
	}
}

// Load parses args (without the program name) over the environment read
// through getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	var (
		overpayment = string(cfg.Overpayment)
		logFormat   = string(cfg.LogFormat)
		err         error
	)

	env := func(name string) string { return getenv(envPrefix + name) }
	if v := env("PORT"); v != "" {
		if cfg.Port, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid %sPORT %q: %w", envPrefix, v, err)
		}
	}
	if v := env("DB"); v != "" {
		cfg.DBPath = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		logFormat = v
	}
	if v := env("OVERPAYMENT"); v != "" {
		overpayment = v
	}
	if v := env("CACHE_TTL"); v != "" {
		if cfg.CacheTTL, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("invalid %sCACHE_TTL %q: %w", envPrefix, v, err)
		}
	}
	if v := env("SCENARIO"); v != "" {
		cfg.Scenario = v
	}

	fs := flag.NewFlagSet("billing-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&logFormat, "log-format", logFormat, "log format (json or text)")
	fs.StringVar(&overpayment, "overpayment", overpayment, "overpayment policy (reject, cap or allow)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "client cache TTL (0 disables)")
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "demo scenario to load at startup")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.LogFormat = logging.Format(logFormat)
	if cfg.Overpayment, err = billing.ParseOverpaymentPolicy(overpayment); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatText:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if _, err := billing.ParseOverpaymentPolicy(string(c.Overpayment)); err != nil {
		errs = append(errs, err)
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl %s is negative", c.CacheTTL))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
