package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/types"
)

func testTrade() *types.PendingTrade {
	return &types.PendingTrade{
		ConditionID:     "0xcond",
		TokenID:         "tok-1",
		Asset:           "BTC",
		DurationMin:     15,
		Side:            types.SideUp,
		RoundKey:        "BTC|15m|1700000000|UP",
		Fingerprint:     "BTC|15m|1700000000",
		NotionalUSD:     10,
		EntryPrice:      0.42,
		FillPrice:       0.42,
		SlippageBps:     0,
		OrderID:         "ord-1",
		Mode:            types.ModeMaker,
		Score:           8,
		Edge:            0.13,
		CoreEntryLocked: true,
		OpenedAt:        time.Now().UTC(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	trade := testTrade()
	require.NoError(t, store.SavePendingTrade(ctx, trade))

	loaded, err := store.LoadPendingTrades(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, trade.ConditionID, loaded[0].ConditionID)
	require.Equal(t, types.SideUp, loaded[0].Side)

	require.NoError(t, store.DeletePendingTrade(ctx, trade.ConditionID))
	loaded, err = store.LoadPendingTrades(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestMemoryStoreSettledOutcomeWriteOnce(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	outcome := &types.SettledOutcome{
		ConditionID: "0xcond",
		Result:      types.ResultWin,
		WinnerSide:  types.SideUp,
		PnLUSD:      13.8,
		SettledAt:   time.Now().UTC(),
	}

	inserted, err := store.SaveSettledOutcome(ctx, outcome)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.SaveSettledOutcome(ctx, outcome)
	require.NoError(t, err)
	require.False(t, inserted, "second write for the same condition id must be a no-op")
}

func TestMemoryStoreBankroll(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	_, found, err := store.LoadBankroll(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.SaveBankroll(ctx, 123.45))
	bankroll, found, err := store.LoadBankroll(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 123.45, bankroll, 1e-9)
}

func TestPostgresStoreSavePendingTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{db: db, logger: zap.NewNop()}

	mock.ExpectExec("INSERT INTO pending_trades").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SavePendingTrade(context.Background(), testTrade()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSettledOutcomeDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{db: db, logger: zap.NewNop()}

	outcome := &types.SettledOutcome{
		ConditionID: "0xcond",
		Result:      types.ResultLoss,
		WinnerSide:  types.SideDown,
		PnLUSD:      -10,
		SettledAt:   time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO settled_outcomes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	inserted, err := store.SaveSettledOutcome(context.Background(), outcome)
	require.NoError(t, err)
	require.True(t, inserted)

	// ON CONFLICT DO NOTHING reports zero rows affected.
	mock.ExpectExec("INSERT INTO settled_outcomes").
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = store.SaveSettledOutcome(context.Background(), outcome)
	require.NoError(t, err)
	require.False(t, inserted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadBankrollNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{db: db, logger: zap.NewNop()}

	mock.ExpectQuery("SELECT bankroll_usd FROM bankroll").
		WillReturnRows(sqlmock.NewRows([]string{"bankroll_usd"}))

	_, found, err := store.LoadBankroll(context.Background())
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{db: db, logger: zap.NewNop()}

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := types.NewEvent(types.EventFill)
	event.ConditionID = "0xcond"
	event.SizeUSD = 10

	require.NoError(t, store.AppendEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}
