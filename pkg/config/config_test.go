package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "https://clob.polymarket.com", cfg.ClobBaseURL)
	require.Equal(t, 3, cfg.MaxOpenPositions)
	require.Equal(t, 20*time.Second, cfg.AdmissionCooldown)
	require.Equal(t, 90*time.Second, cfg.BlockGrace)
	require.InDelta(t, 1.0, cfg.MinNotionalUSD, 1e-9)
	require.InDelta(t, 0.04, cfg.EdgeFloor, 1e-9)
	require.Equal(t, "memory", cfg.StorageMode)
	require.False(t, cfg.SettleStrict)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_OPEN_POSITIONS", "7")
	t.Setenv("ADMISSION_COOLDOWN", "45s")
	t.Setenv("SETTLE_STRICT", "true")
	t.Setenv("EDGE_FLOOR", "0.06")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, 7, cfg.MaxOpenPositions)
	require.Equal(t, 45*time.Second, cfg.AdmissionCooldown)
	require.True(t, cfg.SettleStrict)
	require.InDelta(t, 0.06, cfg.EdgeFloor, 1e-9)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty-http-port", mutate: func(c *Config) { c.HTTPPort = "" }},
		{name: "zero-bankroll", mutate: func(c *Config) { c.InitialBankrollUSD = 0 }},
		{name: "zero-open-cap", mutate: func(c *Config) { c.MaxOpenPositions = 0 }},
		{name: "negative-notional-floor", mutate: func(c *Config) { c.MinNotionalUSD = -1 }},
		{name: "payout-floor-below-one", mutate: func(c *Config) { c.PayoutFloor = 0.9 }},
		{name: "coverage-frac-above-one", mutate: func(c *Config) { c.ForcedCoverageBankrollFrac = 1.5 }},
		{name: "bad-storage-mode", mutate: func(c *Config) { c.StorageMode = "redis" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromEnv()
			require.NoError(t, err)

			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestInvalidEnvValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("MAX_OPEN_POSITIONS", "not-a-number")
	t.Setenv("BOOK_FRESHNESS", "soon")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, 3, cfg.MaxOpenPositions)
	require.Equal(t, 1500*time.Millisecond, cfg.BookFreshness)
}
