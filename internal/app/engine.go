package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/admission"
	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/pkg/types"
)

// TradeRouter executes an admitted signal against the order book.
type TradeRouter interface {
	Route(ctx context.Context, sig *types.Signal) (*types.ExecutionResult, error)
}

// BookWatcher subscribes book streaming for a token while it is being traded.
type BookWatcher interface {
	Watch(tokenID string) error
	Unwatch(tokenID string) error
}

// Engine is the admit-route-record pipeline: one call per incoming signal,
// from admission decision to the ledger write for a confirmed fill. The
// admission token is released on every exit path, so a routing panic or
// error can never leak a bankroll reservation.
type Engine struct {
	gate   *admission.Gate
	router TradeRouter
	ledger *ledger.Ledger
	books  BookWatcher // nil disables feed subscription
	logger *zap.Logger
}

// EngineConfig holds engine dependencies.
type EngineConfig struct {
	Gate   *admission.Gate
	Router TradeRouter
	Ledger *ledger.Ledger
	Books  BookWatcher
	Logger *zap.Logger
}

// NewEngine creates the signal pipeline.
func NewEngine(cfg *EngineConfig) *Engine {
	return &Engine{
		gate:   cfg.Gate,
		router: cfg.Router,
		ledger: cfg.Ledger,
		books:  cfg.Books,
		logger: cfg.Logger,
	}
}

// Submit runs one signal through the pipeline. A non-empty reason means the
// gate rejected the signal; a nil result with empty reason and nil error
// means the router found no acceptable fill.
func (e *Engine) Submit(ctx context.Context, sig *types.Signal) (*types.ExecutionResult, string, error) {
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}

	adm, reason := e.gate.Admit(ctx, sig)
	if reason != "" {
		return nil, reason, nil
	}
	defer adm.Release()

	if e.books != nil {
		err := e.books.Watch(sig.TokenID)
		if err != nil {
			e.logger.Warn("book-watch-failed",
				zap.String("token-id", sig.TokenID),
				zap.Error(err))
		} else {
			defer func() {
				_ = e.books.Unwatch(sig.TokenID)
			}()
		}
	}

	result, err := e.router.Route(ctx, sig)
	if err != nil {
		return nil, "", fmt.Errorf("route signal: %w", err)
	}
	if result == nil {
		return nil, "", nil
	}

	if sig.Booster {
		err = e.ledger.AttachBooster(ctx, sig.ConditionID, result.FilledUSD, result.FillPrice, result.OrderID)
		if err != nil {
			return nil, "", fmt.Errorf("attach booster: %w", err)
		}
		return result, "", nil
	}

	err = e.ledger.RecordOpen(ctx, e.tradeFor(sig, result))
	if err != nil {
		return nil, "", fmt.Errorf("record open: %w", err)
	}
	return result, "", nil
}

func (e *Engine) tradeFor(sig *types.Signal, result *types.ExecutionResult) *types.PendingTrade {
	slippageBps := 0.0
	if sig.Entry > 0 {
		slippageBps = (result.FillPrice - sig.Entry) / sig.Entry * 10000
	}

	return &types.PendingTrade{
		ConditionID: sig.ConditionID,
		TokenID:     sig.TokenID,
		Asset:       sig.Asset,
		DurationMin: sig.DurationMin,
		Side:        sig.Side,
		RoundKey:    sig.RoundKey(),
		Fingerprint: sig.Fingerprint(),
		NotionalUSD: result.FilledUSD,
		EntryPrice:  sig.Entry,
		FillPrice:   result.FillPrice,
		SlippageBps: slippageBps,
		OrderID:     result.OrderID,
		Mode:        result.Mode,
		Score:       sig.Score,
		Edge:        sig.Edge,
		OpenedAt:    time.Now().UTC(),
	}
}
