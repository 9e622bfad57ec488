package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/types"
)

func openTestLedger(t *testing.T, bankroll float64) (*Ledger, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(zap.NewNop())
	l, err := Open(context.Background(), &Config{
		Logger:             zap.NewNop(),
		Store:              store,
		InitialBankrollUSD: bankroll,
	})
	require.NoError(t, err)
	return l, store
}

func openTrade() *types.PendingTrade {
	return &types.PendingTrade{
		ConditionID: "0xaaa",
		TokenID:     "tok-up",
		Asset:       "BTC",
		DurationMin: 15,
		Side:        types.SideUp,
		RoundKey:    types.NewRoundKey("BTC|15m|1700000000", types.SideUp),
		Fingerprint: "BTC|15m|1700000000",
		NotionalUSD: 10,
		EntryPrice:  0.40,
		FillPrice:   0.41,
		SlippageBps: 25,
		OrderID:     "ord-1",
		Mode:        types.ModeMaker,
		Score:       8,
		Edge:        0.15,
	}
}

func TestReserveRelease(t *testing.T) {
	l, _ := openTestLedger(t, 100)

	require.NoError(t, l.Reserve(60))
	require.InDelta(t, 40, l.Available(), 1e-9)

	// Over-reserving beyond available must fail.
	require.Error(t, l.Reserve(50))

	l.Release(60)
	require.InDelta(t, 100, l.Available(), 1e-9)
	require.InDelta(t, 0, l.Reserved(), 1e-9)
}

func TestRecordOpenDecrementsBankrollOnce(t *testing.T) {
	l, _ := openTestLedger(t, 100)

	require.NoError(t, l.RecordOpen(context.Background(), openTrade()))
	require.InDelta(t, 90, l.Bankroll(), 1e-9)
	require.Equal(t, 1, l.OpenCount())

	// Reopening the same condition id is an error.
	require.Error(t, l.RecordOpen(context.Background(), openTrade()))
	require.InDelta(t, 90, l.Bankroll(), 1e-9)
}

func TestRoundTripWinBankrollDelta(t *testing.T) {
	l, _ := openTestLedger(t, 100)
	ctx := context.Background()

	trade := openTrade()
	require.NoError(t, l.RecordOpen(ctx, trade))

	// Win: redeemed amount comes from the observed on-chain delta.
	redeemed := 24.39
	outcome := &types.SettledOutcome{
		ConditionID: trade.ConditionID,
		RoundKey:    trade.RoundKey,
		Result:      types.ResultWin,
		WinnerSide:  types.SideUp,
		PnLUSD:      redeemed - trade.NotionalUSD,
		SettledAt:   time.Now().UTC(),
	}

	closed, err := l.RecordClose(ctx, outcome, redeemed)
	require.NoError(t, err)
	require.True(t, closed)

	// Exactly one bankroll delta equal to redeemed - staked.
	require.InDelta(t, 100+redeemed-trade.NotionalUSD, l.Bankroll(), 1e-9)
	require.Equal(t, 0, l.OpenCount())
}

func TestRoundTripLossBankrollDelta(t *testing.T) {
	l, _ := openTestLedger(t, 100)
	ctx := context.Background()

	trade := openTrade()
	require.NoError(t, l.RecordOpen(ctx, trade))

	outcome := &types.SettledOutcome{
		ConditionID: trade.ConditionID,
		RoundKey:    trade.RoundKey,
		Result:      types.ResultLoss,
		WinnerSide:  types.SideDown,
		PnLUSD:      -trade.NotionalUSD,
		SettledAt:   time.Now().UTC(),
	}

	closed, err := l.RecordClose(ctx, outcome, 0)
	require.NoError(t, err)
	require.True(t, closed)

	require.InDelta(t, 100-trade.NotionalUSD, l.Bankroll(), 1e-9)
}

func TestRecordCloseIdempotent(t *testing.T) {
	l, _ := openTestLedger(t, 100)
	ctx := context.Background()

	trade := openTrade()
	require.NoError(t, l.RecordOpen(ctx, trade))

	outcome := &types.SettledOutcome{
		ConditionID: trade.ConditionID,
		RoundKey:    trade.RoundKey,
		Result:      types.ResultWin,
		WinnerSide:  types.SideUp,
		PnLUSD:      14.39,
		SettledAt:   time.Now().UTC(),
	}

	closed, err := l.RecordClose(ctx, outcome, 24.39)
	require.NoError(t, err)
	require.True(t, closed)
	bankrollAfterFirst := l.Bankroll()

	// Replaying the close produces no bankroll or stat changes.
	closed, err = l.RecordClose(ctx, outcome, 24.39)
	require.NoError(t, err)
	require.False(t, closed)
	require.InDelta(t, bankrollAfterFirst, l.Bankroll(), 1e-9)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	store := storage.NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	l, err := Open(ctx, &Config{Logger: zap.NewNop(), Store: store, InitialBankrollUSD: 100})
	require.NoError(t, err)
	require.NoError(t, l.RecordOpen(ctx, openTrade()))

	reopened, err := Open(ctx, &Config{Logger: zap.NewNop(), Store: store, InitialBankrollUSD: 100})
	require.NoError(t, err)
	require.Equal(t, 1, reopened.OpenCount())
	require.InDelta(t, 90, reopened.Bankroll(), 1e-9)

	_, found := reopened.Pending("0xaaa")
	require.True(t, found)
}

func TestAttachBoosterKeepsCoreEntry(t *testing.T) {
	l, _ := openTestLedger(t, 100)
	ctx := context.Background()

	trade := openTrade()
	require.NoError(t, l.RecordOpen(ctx, trade))

	require.NoError(t, l.AttachBooster(ctx, trade.ConditionID, 5, 0.47, "ord-2"))

	got, found := l.Pending(trade.ConditionID)
	require.True(t, found)
	require.True(t, got.CoreEntryLocked)
	require.InDelta(t, 0.40, got.EntryPrice, 1e-9, "booster must not average into core entry")
	require.Equal(t, 1, got.BoosterCount)
	require.InDelta(t, 5, got.BoosterStakeUSD, 1e-9)
	require.InDelta(t, 15, got.TotalStakeUSD(), 1e-9)
	require.InDelta(t, 85, l.Bankroll(), 1e-9)
}

func TestPayoutFloorAdaptive(t *testing.T) {
	l, _ := openTestLedger(t, 100)

	// No history: base floor applies.
	require.InDelta(t, 1.5, l.PayoutFloorFor(15, 8, 0.42, 1.5), 1e-9)

	// Seed a bucket with a poor win rate; the floor must rise to 1/winRate.
	key := types.BucketFor(15, 8, 0.42)
	l.mu.Lock()
	l.stats[key] = &types.BucketStat{Key: key, Wins: 4, Losses: 6}
	l.mu.Unlock()

	require.InDelta(t, 2.5, l.PayoutFloorFor(15, 8, 0.42, 1.5), 1e-9)
}
