package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/admission"
	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/types"
)

type stubRouter struct {
	result *types.ExecutionResult
	err    error
	calls  int
}

func (r *stubRouter) Route(_ context.Context, _ *types.Signal) (*types.ExecutionResult, error) {
	r.calls++
	return r.result, r.err
}

type stubWatcher struct {
	watched   []string
	unwatched []string
}

func (w *stubWatcher) Watch(tokenID string) error {
	w.watched = append(w.watched, tokenID)
	return nil
}

func (w *stubWatcher) Unwatch(tokenID string) error {
	w.unwatched = append(w.unwatched, tokenID)
	return nil
}

func newTestEngine(t *testing.T, rt TradeRouter) (*Engine, *ledger.Ledger, *stubWatcher) {
	t.Helper()

	book, err := ledger.Open(context.Background(), &ledger.Config{
		Logger:             zap.NewNop(),
		Store:              storage.NewMemoryStore(zap.NewNop()),
		InitialBankrollUSD: 100,
	})
	require.NoError(t, err)

	gate, err := admission.New(&admission.Config{
		Logger:           zap.NewNop(),
		Ledger:           book,
		MaxOpenPositions: 3,
		Cooldown:         time.Millisecond,
		BlockGrace:       90 * time.Second,
		BoosterMaxPerID:  2,
	})
	require.NoError(t, err)

	watcher := &stubWatcher{}
	engine := NewEngine(&EngineConfig{
		Gate:   gate,
		Router: rt,
		Ledger: book,
		Books:  watcher,
		Logger: zap.NewNop(),
	})
	return engine, book, watcher
}

func signalFixture() *types.Signal {
	return &types.Signal{
		Asset:       "BTC",
		DurationMin: 15,
		Side:        types.SideUp,
		Score:       8,
		TrueProb:    0.55,
		Entry:       0.41,
		Edge:        0.13,
		SizeUSD:     10,
		TokenID:     "tok-1",
		ConditionID: "0xc1",
		MarketEnd:   time.Now().Add(10 * time.Minute),
	}
}

func TestSubmitFillOpensPosition(t *testing.T) {
	rt := &stubRouter{result: &types.ExecutionResult{
		OrderID:   "o1",
		FillPrice: 0.42,
		FilledUSD: 10,
		Mode:      types.ModeMaker,
	}}
	engine, book, watcher := newTestEngine(t, rt)

	result, reason, err := engine.Submit(context.Background(), signalFixture())
	require.NoError(t, err)
	assert.Empty(t, reason)
	require.NotNil(t, result)

	trade, ok := book.Pending("0xc1")
	require.True(t, ok)
	assert.Equal(t, "o1", trade.OrderID)
	assert.InDelta(t, 0.42, trade.FillPrice, 1e-9)
	assert.InDelta(t, 0.41, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 10, trade.NotionalUSD, 1e-9)

	// Reservation returned after routing; bankroll carries the stake.
	assert.InDelta(t, 0, book.Reserved(), 1e-9)
	assert.InDelta(t, 90, book.Bankroll(), 1e-9)

	assert.Equal(t, []string{"tok-1"}, watcher.watched)
	assert.Equal(t, []string{"tok-1"}, watcher.unwatched)
}

func TestSubmitNoFillReleasesReservation(t *testing.T) {
	engine, book, _ := newTestEngine(t, &stubRouter{})

	result, reason, err := engine.Submit(context.Background(), signalFixture())
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Nil(t, result)

	assert.InDelta(t, 0, book.Reserved(), 1e-9)
	assert.InDelta(t, 100, book.Bankroll(), 1e-9)
	assert.Zero(t, book.OpenCount())
}

func TestSubmitRouteErrorReleasesReservation(t *testing.T) {
	engine, book, _ := newTestEngine(t, &stubRouter{err: errors.New("clob unreachable")})

	result, reason, err := engine.Submit(context.Background(), signalFixture())
	require.Error(t, err)
	assert.Empty(t, reason)
	assert.Nil(t, result)
	assert.InDelta(t, 0, book.Reserved(), 1e-9)
}

func TestSubmitDuplicateRejectedWithoutRouting(t *testing.T) {
	rt := &stubRouter{result: &types.ExecutionResult{
		OrderID:   "o1",
		FillPrice: 0.42,
		FilledUSD: 10,
		Mode:      types.ModeMaker,
	}}
	engine, _, _ := newTestEngine(t, rt)

	_, reason, err := engine.Submit(context.Background(), signalFixture())
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Equal(t, 1, rt.calls)

	_, reason, err = engine.Submit(context.Background(), signalFixture())
	require.NoError(t, err)
	assert.NotEmpty(t, reason)
	assert.Equal(t, 1, rt.calls)
}

func TestSubmitBoosterAttachesToCore(t *testing.T) {
	rt := &stubRouter{result: &types.ExecutionResult{
		OrderID:   "o1",
		FillPrice: 0.42,
		FilledUSD: 10,
		Mode:      types.ModeMaker,
	}}
	engine, book, _ := newTestEngine(t, rt)

	_, reason, err := engine.Submit(context.Background(), signalFixture())
	require.NoError(t, err)
	require.Empty(t, reason)

	time.Sleep(5 * time.Millisecond) // clear the attempt cooldown

	booster := signalFixture()
	booster.Booster = true
	booster.SizeUSD = 5
	rt.result = &types.ExecutionResult{
		OrderID:   "o2",
		FillPrice: 0.44,
		FilledUSD: 5,
		Mode:      types.ModeFOK,
	}

	result, reason, err := engine.Submit(context.Background(), booster)
	require.NoError(t, err)
	assert.Empty(t, reason)
	require.NotNil(t, result)

	trade, ok := book.Pending("0xc1")
	require.True(t, ok)
	assert.Equal(t, 1, trade.BoosterCount)
	assert.InDelta(t, 5, trade.BoosterStakeUSD, 1e-9)
	assert.InDelta(t, 15, trade.TotalStakeUSD(), 1e-9)
	// Core entry stays at the first fill, never averaged.
	assert.InDelta(t, 0.42, trade.FillPrice, 1e-9)
}
