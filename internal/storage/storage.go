package storage

import (
	"context"

	"github.com/betcore/sprintbet/pkg/types"
)

// Store persists the execution ledger's durable state: pending positions,
// settled outcomes, bucket statistics, bankroll and the append-only event
// log. Everything survives process restart.
type Store interface {
	SavePendingTrade(ctx context.Context, t *types.PendingTrade) error
	DeletePendingTrade(ctx context.Context, conditionID string) error
	LoadPendingTrades(ctx context.Context) ([]*types.PendingTrade, error)

	// SaveSettledOutcome must be write-once: a second save for the same
	// condition id is a no-op reported via inserted=false.
	SaveSettledOutcome(ctx context.Context, o *types.SettledOutcome) (inserted bool, err error)
	LoadSettledOutcomes(ctx context.Context) ([]*types.SettledOutcome, error)

	SaveBucketStat(ctx context.Context, s *types.BucketStat) error
	LoadBucketStats(ctx context.Context) ([]*types.BucketStat, error)

	SaveBankroll(ctx context.Context, bankrollUSD float64) error
	LoadBankroll(ctx context.Context) (bankrollUSD float64, found bool, err error)

	AppendEvent(ctx context.Context, e *types.Event) error

	Close() error
}
