package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, DriverMemory, cfg.StoreDriver)
	require.Equal(t, 3, cfg.TxMaxAttempts)
	require.Equal(t, 30, cfg.DefaultPaymentTerms)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.SweepRepair)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("TX_MAX_ATTEMPTS", "5")
	t.Setenv("PG_STATEMENT_TIMEOUT", "2s")
	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.TxMaxAttempts)
	require.Equal(t, 2*time.Second, cfg.PGStatementTimeout)
	require.True(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			StoreDriver:        DriverPostgres,
			PGDSN:              "postgres://localhost/odyssey",
			TxMaxAttempts:      3,
			MaintenanceLockTTL: time.Minute,
			RateLimitPerMinute: 60,
		}
	}
	cases := map[string]func(*Config){
		"unknown driver": func(c *Config) { c.StoreDriver = "sqlite" },
		"missing dsn":    func(c *Config) { c.PGDSN = "" },
		"zero attempts":  func(c *Config) { c.TxMaxAttempts = 0 },
		"negative terms": func(c *Config) { c.DefaultPaymentTerms = -1 },
		"zero lock ttl":  func(c *Config) { c.MaintenanceLockTTL = 0 },
		"zero rate":      func(c *Config) { c.RateLimitPerMinute = 0 },
		"bad log level":  func(c *Config) { c.LogLevel = "loud" },
	}
	valid := base()
	require.NoError(t, valid.Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
