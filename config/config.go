// Package config loads server configuration from .env, the environment and
// an optional YAML file.
//
// Precedence, lowest first: built-in defaults, .env, process environment,
// the YAML file named by SETTLEMENT_CONFIG. Command line flags in cmd/server
// override the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/sepa"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	ServiceName string    `yaml:"service_name"`
	Environment string    `yaml:"environment"`
	Port        int       `yaml:"port"`
	Database    Database  `yaml:"database"`
	Logging     Logging   `yaml:"logging"`
	CORSOrigins []string  `yaml:"cors_origins"`
	RateLimit   RateLimit `yaml:"rate_limit"`
	SEPA        SEPA      `yaml:"sepa"`

	// HeatingRatio is the consumption part of heating costs, "0.5".."0.7"
	// in practice. Empty means the engine default.
	HeatingRatio string `yaml:"heating_ratio"`
}

// Database selects the store.
type Database struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// RateLimit throttles the API with one shared token bucket. Zero disables it.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SEPA carries the organization's own bank details. They fill in batches
// submitted without a creditor or originator.
type SEPA struct {
	CreditorName string `yaml:"creditor_name"`
	IBAN         string `yaml:"iban"`
	BIC          string `yaml:"bic"`
	CreditorID   string `yaml:"creditor_id"`
}

// Load reads configuration. A missing .env file is not an error; a missing
// SETTLEMENT_CONFIG file is.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServiceName: getenv("SETTLEMENT_SERVICE", "settlement-engine"),
		Environment: getenv("ENVIRONMENT", "development"),
		Port:        getenvInt("PORT", 8080),
		Database: Database{
			Driver: strings.ToLower(getenv("DATABASE_DRIVER", DriverSQLite)),
			DSN:    getenv("DATABASE_DSN", "settlement.db"),
		},
		Logging: Logging{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		CORSOrigins: splitCSV(getenv("CORS_ORIGINS", "*")),
		RateLimit: RateLimit{
			RequestsPerSecond: getenvFloat("RATE_LIMIT_RPS", 0),
			Burst:             getenvInt("RATE_LIMIT_BURST", 20),
		},
		SEPA: SEPA{
			CreditorName: getenv("SEPA_CREDITOR_NAME", ""),
			IBAN:         getenv("SEPA_CREDITOR_IBAN", ""),
			BIC:          getenv("SEPA_CREDITOR_BIC", ""),
			CreditorID:   getenv("SEPA_CREDITOR_ID", ""),
		},
		HeatingRatio: getenv("HEATING_RATIO", ""),
	}

	if path := os.Getenv("SETTLEMENT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database dsn required")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: negative rate limit")
	}
	if _, err := c.HeatingConsumptionRatio(); err != nil {
		return err
	}
	return nil
}

// HeatingConsumptionRatio parses HeatingRatio. Empty yields zero, which the
// settlement service reads as "use the default".
func (c Config) HeatingConsumptionRatio() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.HeatingRatio)
	if raw == "" {
		return decimal.Zero, nil
	}
	ratio, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: heating_ratio %q: %w", raw, err)
	}
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("config: heating_ratio %s outside 0..1", ratio)
	}
	return ratio, nil
}

// Creditor is the default pain.008 creditor.
func (c Config) Creditor() sepa.Creditor {
	return sepa.Creditor{
		Name:       c.SEPA.CreditorName,
		IBAN:       c.SEPA.IBAN,
		BIC:        c.SEPA.BIC,
		CreditorID: c.SEPA.CreditorID,
	}
}

// Originator is the default pain.001 debtor account.
func (c Config) Originator() sepa.Account {
	return sepa.Account{Name: c.SEPA.CreditorName, IBAN: c.SEPA.IBAN, BIC: c.SEPA.BIC}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getenvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
