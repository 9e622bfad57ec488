package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Tracker polls wallet balances and open positions on an interval and exports
// them as gauges, giving the operator an exchange-side view next to the
// ledger's own accounting.
type Tracker struct {
	client       *Client
	address      common.Address
	pollInterval time.Duration
	logger       *zap.Logger
}

// Config holds tracker configuration.
type Config struct {
	RPCEndpoint  string
	Address      common.Address
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New creates a wallet tracker.
func New(cfg *Config) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.RPCEndpoint == "" {
		return nil, errors.New("RPC endpoint cannot be empty")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	client, err := NewClient(cfg.RPCEndpoint, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Tracker{
		client:       client,
		address:      cfg.Address,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}, nil
}

// Run blocks, polling until the context is cancelled. The first poll happens
// immediately so gauges are populated at startup.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("wallet-tracker-starting",
		zap.Duration("poll-interval", t.pollInterval),
		zap.String("address", t.address.Hex()))

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("wallet-tracker-stopping")
			return ctx.Err()
		case <-ticker.C:
			t.pollOnce(ctx)
		}
	}
}

func (t *Tracker) pollOnce(ctx context.Context) {
	if err := t.poll(ctx); err != nil {
		t.logger.Error("wallet-poll-failed", zap.Error(err))
		UpdateErrorsTotal.Inc()
	}
}

func (t *Tracker) poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		UpdateDuration.Observe(time.Since(start).Seconds())
	}()

	balCtx, balCancel := context.WithTimeout(ctx, requestTimeout)
	defer balCancel()

	balances, err := t.client.GetBalances(balCtx, t.address)
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}

	posCtx, posCancel := context.WithTimeout(ctx, requestTimeout)
	defer posCancel()

	positions, err := t.client.GetPositions(posCtx, t.address.Hex())
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}

	t.updateMetrics(balances, positions)
	LastUpdateTimestamp.Set(float64(time.Now().Unix()))

	t.logger.Debug("wallet-poll-complete",
		zap.Int("position-count", len(positions)),
		zap.Duration("duration", time.Since(start)))

	return nil
}

func (t *Tracker) updateMetrics(balances *Balances, positions []Position) {
	maticUSD := rawToFloat(balances.MATIC, 1e18)
	usdcUSD := rawToFloat(balances.USDC, 1e6)

	MATICBalance.Set(maticUSD)
	USDCBalance.Set(usdcUSD)
	USDCAllowance.Set(rawToFloat(balances.USDCAllowance, 1e6))

	var value, cost, pnl float64
	for _, pos := range positions {
		value += pos.Value
		cost += pos.InitialValue
		pnl += pos.CashPnL
	}

	ActivePositions.Set(float64(len(positions)))
	TotalPositionValue.Set(value)
	TotalPositionCost.Set(cost)
	UnrealizedPnL.Set(pnl)

	pct := 0.0
	if cost > 0 {
		pct = pnl / cost * 100
	}
	UnrealizedPnLPercent.Set(pct)

	PortfolioValue.Set(usdcUSD + value)
}

// rawToFloat converts a raw integer token amount to a float at the given
// decimal scale.
func rawToFloat(raw *big.Int, scale float64) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(scale)).Float64()
	return f
}
