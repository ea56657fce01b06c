package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/config"
)

// clearEnv blanks every variable Load reads so the host environment does not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SETTLEMENT_SERVICE", "ENVIRONMENT", "PORT", "DATABASE_DRIVER", "DATABASE_DSN",
		"LOG_LEVEL", "LOG_FORMAT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"SEPA_CREDITOR_NAME", "SEPA_CREDITOR_IBAN", "SEPA_CREDITOR_BIC", "SEPA_CREDITOR_ID",
		"HEATING_RATIO", "SETTLEMENT_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "settlement.db", cfg.Database.DSN)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Zero(t, cfg.RateLimit.RequestsPerSecond)

	ratio, err := cfg.HeatingConsumptionRatio()
	require.NoError(t, err)
	assert.True(t, ratio.IsZero())
}

func TestLoad_Environment(t *testing.T) {
	// GIVEN: Settings in the environment
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_DSN", "postgres://localhost/settlement")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SEPA_CREDITOR_NAME", "Hausverwaltung")
	t.Setenv("SEPA_CREDITOR_ID", "AT61ZZZ01234567890")
	t.Setenv("HEATING_RATIO", "0.6")

	// WHEN: Loaded
	cfg, err := config.Load()

	// THEN: Environment wins over defaults
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "Hausverwaltung", cfg.Creditor().Name)
	assert.Equal(t, "AT61ZZZ01234567890", cfg.Creditor().CreditorID)
	assert.Equal(t, "Hausverwaltung", cfg.Originator().Name)

	ratio, err := cfg.HeatingConsumptionRatio()
	require.NoError(t, err)
	assert.True(t, ratio.Equal(decimal.RequireFromString("0.6")))
}

func TestLoad_YAMLOverridesEnvironment(t *testing.T) {
	// GIVEN: A port in the environment and a YAML file
	clearEnv(t)
	t.Setenv("PORT", "9090")
	path := filepath.Join(t.TempDir(), "settlement.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 7070
database:
  driver: sqlite
  dsn: ":memory:"
rate_limit:
  requests_per_second: 5
  burst: 10
sepa:
  creditor_name: Hausverwaltung Graz
  iban: AT483200000012345864
`), 0o600))
	t.Setenv("SETTLEMENT_CONFIG", path)

	// WHEN: Loaded
	cfg, err := config.Load()

	// THEN: The file has the last word, untouched keys keep their values
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, ":memory:", cfg.Database.DSN)
	assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, "Hausverwaltung Graz", cfg.SEPA.CreditorName)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SETTLEMENT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := config.Load()

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := config.Config{Port: 8080, Database: config.Database{Driver: "sqlite", DSN: ":memory:"}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port out of range", func(c *config.Config) { c.Port = 70000 }},
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *config.Config) { c.Database.DSN = " " }},
		{"negative rate", func(c *config.Config) { c.RateLimit.RequestsPerSecond = -1 }},
		{"ratio above one", func(c *config.Config) { c.HeatingRatio = "1.2" }},
		{"ratio not a number", func(c *config.Config) { c.HeatingRatio = "viel" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Config{ServiceName: "settlement-engine", Logging: config.Logging{Level: "debug", Format: "console"}}

	logger, err := cfg.NewLogger()

	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Logging.Level = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
