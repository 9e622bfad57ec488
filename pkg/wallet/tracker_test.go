package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func trackerConfig() *Config {
	return &Config{
		RPCEndpoint:  "https://polygon-rpc.com",
		Address:      common.HexToAddress("0x1234567890123456789012345678901234567890"),
		PollInterval: time.Minute,
		Logger:       zap.NewNop(),
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config) *Config
	}{
		{"nil_config", func(*Config) *Config { return nil }},
		{"nil_logger", func(c *Config) *Config { c.Logger = nil; return c }},
		{"empty_rpc_endpoint", func(c *Config) *Config { c.RPCEndpoint = ""; return c }},
		{"zero_poll_interval", func(c *Config) *Config { c.PollInterval = 0; return c }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mutate(trackerConfig()))
			require.Error(t, err)
		})
	}

	tracker, err := New(trackerConfig())
	require.NoError(t, err)
	assert.NotNil(t, tracker.client)
}

func TestRunStopsOnCancel(t *testing.T) {
	tracker, err := New(trackerConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- tracker.Run(ctx)
	}()

	select {
	case runErr := <-done:
		assert.ErrorIs(t, runErr, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestUpdateMetricsAggregates(t *testing.T) {
	tracker, err := New(trackerConfig())
	require.NoError(t, err)

	tracker.updateMetrics(
		&Balances{
			MATIC:         big.NewInt(5e18),
			USDC:          big.NewInt(100e6),
			USDCAllowance: big.NewInt(1000e6),
		},
		[]Position{
			{Value: 110, InitialValue: 100, CashPnL: 10},
			{Value: 48, InitialValue: 50, CashPnL: -2},
		},
	)

	assert.InDelta(t, 5.0, testutil.ToFloat64(MATICBalance), 1e-9)
	assert.InDelta(t, 100.0, testutil.ToFloat64(USDCBalance), 1e-9)
	assert.InDelta(t, 1000.0, testutil.ToFloat64(USDCAllowance), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(ActivePositions), 1e-9)
	assert.InDelta(t, 158.0, testutil.ToFloat64(TotalPositionValue), 1e-9)
	assert.InDelta(t, 150.0, testutil.ToFloat64(TotalPositionCost), 1e-9)
	assert.InDelta(t, 8.0, testutil.ToFloat64(UnrealizedPnL), 1e-9)
	// (8 / 150) * 100
	assert.InDelta(t, 5.333, testutil.ToFloat64(UnrealizedPnLPercent), 0.001)
	// USDC + position value
	assert.InDelta(t, 258.0, testutil.ToFloat64(PortfolioValue), 1e-9)
}

func TestUpdateMetricsZeroCost(t *testing.T) {
	tracker, err := New(trackerConfig())
	require.NoError(t, err)

	// Zero cost basis must not divide by zero.
	tracker.updateMetrics(
		&Balances{MATIC: big.NewInt(0), USDC: big.NewInt(0), USDCAllowance: big.NewInt(0)},
		[]Position{{Value: 10, InitialValue: 0, CashPnL: 10}},
	)

	assert.Zero(t, testutil.ToFloat64(UnrealizedPnLPercent))
	assert.InDelta(t, 10.0, testutil.ToFloat64(PortfolioValue), 1e-9)
}
