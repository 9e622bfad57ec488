package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/config"
	"github.com/betcore/sprintbet/pkg/types"
)

type stubBooks struct {
	book         *types.BookSnapshot
	fresh        *types.BookSnapshot
	bookCalls    int
	refreshCalls int
}

func (s *stubBooks) Book(_ context.Context, _ string) (*types.BookSnapshot, error) {
	s.bookCalls++
	b := *s.book
	b.CapturedAt = time.Now()
	return &b, nil
}

func (s *stubBooks) Refresh(_ context.Context, _ string) (*types.BookSnapshot, error) {
	s.refreshCalls++
	src := s.fresh
	if src == nil {
		src = s.book
	}
	b := *src
	b.CapturedAt = time.Now()
	return &b, nil
}

type placedOrder struct {
	kind   string // "gtc" or "fok"
	price  float64 // GTC price or FOK cap
	shares float64
	usd    float64
}

type stubOrders struct {
	mu            sync.Mutex
	placed        []placedOrder
	gtcAck        *types.OrderAck
	fokAcks       []*types.OrderAck // popped per FOK
	status        *types.OrderState
	statusAfterCX *types.OrderState // returned by Status once Cancel was called
	cached        *types.OrderState
	canceled      []string
}

func (s *stubOrders) PlaceGTC(_ context.Context, _ string, price, shares float64) (*types.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, placedOrder{kind: "gtc", price: price, shares: shares})
	return s.gtcAck, nil
}

func (s *stubOrders) PlaceFOK(_ context.Context, _ string, amountUSD, capPrice float64) (*types.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, placedOrder{kind: "fok", price: capPrice, usd: amountUSD})
	if len(s.fokAcks) == 0 {
		return &types.OrderAck{Status: types.OrderKilled}, nil
	}
	ack := s.fokAcks[0]
	s.fokAcks = s.fokAcks[1:]
	return ack, nil
}

func (s *stubOrders) Status(_ context.Context, orderID string) (*types.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.canceled) > 0 && s.statusAfterCX != nil {
		return s.statusAfterCX, nil
	}
	if s.status == nil {
		return &types.OrderState{OrderID: orderID, Status: "LIVE"}, nil
	}
	return s.status, nil
}

func (s *stubOrders) Cached(orderID string) (*types.OrderState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil, false
	}
	return s.cached, true
}

func (s *stubOrders) Cancel(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, orderID)
	return nil
}

func (s *stubOrders) orders() []placedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]placedOrder(nil), s.placed...)
}

type stubStats struct {
	bankroll    float64
	payoutFloor float64
	avgSlipBps  float64
	mu          sync.Mutex
	events      []*types.Event
}

func (s *stubStats) Bankroll() float64 { return s.bankroll }

func (s *stubStats) PayoutFloorFor(_, _ int, _, baseFloor float64) float64 {
	if s.payoutFloor > 0 {
		return s.payoutFloor
	}
	return baseFloor
}

func (s *stubStats) AvgSlippageFor(_, _ int, _ float64) float64 { return s.avgSlipBps }

func (s *stubStats) AppendEvent(_ context.Context, e *types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func testConfig() *config.Config {
	return &config.Config{
		MinNotionalUSD:             1.0,
		ForcedCoverageMinUSD:       2.0,
		ForcedCoverageBankrollFrac: 0.02,
		EdgeFloor:                  0.04,
		OracleDisagreePenalty:      0.02,
		RoundForceEdgeFloor:        -0.01,
		HighConvictionScore:        9,
		FastPathSpreadMax:          0.02,
		FastPathEdgeMin:            0.08,
		NearCloseWindow:            90 * time.Second,
		DepthMultiple:              2.0,
		SlippageCapBps:             300,
		SpreadCapBase:              0.04,
		TickGapLimit:               3,
		TargetTolerance:            0.01,
		NearMissTolerance:          0.005,
		PayoutFloor:                1.5,
		EVFloor:                    0.02,
		MakerWait:                  60 * time.Millisecond,
		MakerWaitFast:              40 * time.Millisecond,
		MakerPollInterval:          10 * time.Millisecond,
		DustMinUSD:                 0.5,
		RouteMaxAttempts:           3,
		RateLimitBackoff:           time.Millisecond,
		TransientBackoff:           time.Millisecond,
	}
}

func newTestRouter(books *stubBooks, orders *stubOrders, stats *stubStats) *Router {
	if stats == nil {
		stats = &stubStats{bankroll: 250}
	}
	return New(&Config{
		Books:  books,
		Orders: orders,
		Stats:  stats,
		Cfg:    testConfig(),
		Logger: zap.NewNop(),
	})
}

func testSignal() *types.Signal {
	return &types.Signal{
		Asset:       "BTC",
		DurationMin: 15,
		Side:        types.SideUp,
		Score:       8,
		TrueProb:    0.55,
		Entry:       0.41,
		Edge:        0.13,
		SizeUSD:     10,
		TokenID:     "token-1",
		ConditionID: "0xc1",
		MarketEnd:   time.Now().Add(10 * time.Minute),
		MinutesLeft: 10,
	}
}

func scenarioBook() *types.BookSnapshot {
	return &types.BookSnapshot{
		TokenID:  "token-1",
		BestBid:  0.40,
		BestAsk:  0.42,
		TickSize: 0.01,
		Asks: []types.BookLevel{
			{Price: 0.42, Size: 200},
			{Price: 0.43, Size: 300},
		},
	}
}

func TestMakerPriceFromBook(t *testing.T) {
	// bid=0.40 ask=0.42 tick=0.01: min(mid+tick, ask-tick) = 0.41.
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderMatched}}
	r := newTestRouter(books, orders, nil)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeMaker, result.Mode)
	assert.InDelta(t, 0.41, result.FillPrice, 1e-9)

	placed := orders.orders()
	require.Len(t, placed, 1)
	assert.Equal(t, "gtc", placed[0].kind)
	assert.InDelta(t, 0.41, placed[0].price, 1e-9)
}

func TestBelowFloorNeverFetchesBook(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{}
	r := newTestRouter(books, orders, nil)

	sig := testSignal()
	sig.SizeUSD = 0.5

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, books.bookCalls)
	assert.Empty(t, orders.orders())
}

func TestForcedCoverageBumpsSize(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderMatched}}
	stats := &stubStats{bankroll: 250}
	r := newTestRouter(books, orders, stats)

	sig := testSignal()
	sig.SizeUSD = 0.5
	sig.RoundForce = true

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result)
	// Bumped to the forced-coverage minimum (2.00 USD), within 2% of bankroll.
	assert.InDelta(t, 2.0, result.FilledUSD, 0.05)
}

func TestForcedCoverageCapRejects(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{}
	// 2% of a 50 USD bankroll = 1 USD < forced minimum, so no bump.
	stats := &stubStats{bankroll: 50}
	r := newTestRouter(books, orders, stats)

	sig := testSignal()
	sig.SizeUSD = 0.5
	sig.RoundForce = true

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, orders.orders())
}

func TestSpreadCapRejects(t *testing.T) {
	book := scenarioBook()
	book.BestAsk = 0.50
	book.Asks[0].Price = 0.50
	books := &stubBooks{book: book}
	orders := &stubOrders{}
	r := newTestRouter(books, orders, nil)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, orders.orders())
}

func TestEdgeFloorTakerRejects(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{}
	r := newTestRouter(books, orders, nil)

	sig := testSignal()
	sig.TrueProb = 0.44 // taker edge 0.02 < 0.04 floor

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestHighConvictionUsesMakerEdge(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderMatched}}
	r := newTestRouter(books, orders, nil)

	// Taker edge 0.46-0.42=0.04 fails the fast-path bar but maker edge
	// 0.46-0.41=0.05 clears the floor for a score-9 signal.
	sig := testSignal()
	sig.Score = 9
	sig.TrueProb = 0.46
	sig.Entry = 0.41

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestFOKKillFallsToMakerOnSameSnapshot(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{
		fokAcks: []*types.OrderAck{{Status: types.OrderKilled}},
		gtcAck:  &types.OrderAck{OrderID: "o2", Status: types.OrderMatched},
	}
	r := newTestRouter(books, orders, nil)

	// Score 9, tight spread, big edge: fast-path eligible.
	sig := testSignal()
	sig.Score = 9
	sig.TrueProb = 0.60
	sig.Entry = 0.42

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeMaker, result.Mode)

	placed := orders.orders()
	require.Len(t, placed, 2)
	assert.Equal(t, "fok", placed[0].kind)
	assert.Equal(t, "gtc", placed[1].kind)
	// Maker price comes from the same snapshot: min(0.41+0.01, 0.42-0.01)
	// capped at target 0.42+0.01.
	assert.InDelta(t, 0.41, placed[1].price, 1e-9)
}

func TestFastPathFOKMatched(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{
		fokAcks: []*types.OrderAck{{OrderID: "o1", Status: types.OrderMatched, Price: 0.42}},
	}
	r := newTestRouter(books, orders, nil)

	sig := testSignal()
	sig.ForceTaker = true
	sig.Entry = 0.42

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeFOK, result.Mode)
	assert.InDelta(t, 0.42, result.FillPrice, 1e-9)
}

func TestMakerTimeoutFallsToTaker(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{
		gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderLive},
		cached: &types.OrderState{OrderID: "o1", Status: "LIVE", OriginalSize: 24.39},
		fokAcks: []*types.OrderAck{
			{OrderID: "o2", Status: types.OrderMatched, Price: 0.42},
		},
	}
	r := newTestRouter(books, orders, nil)

	sig := testSignal()
	sig.Entry = 0.42

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeFOKFallback, result.Mode)
	assert.Contains(t, orders.canceled, "o1")
	assert.GreaterOrEqual(t, books.refreshCalls, 1)
}

func TestMakerPartialFill(t *testing.T) {
	partial := &types.OrderState{
		OrderID:      "o1",
		Status:       "LIVE",
		OriginalSize: 24.39,
		SizeMatched:  10,
	}
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{
		gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderLive},
		cached: partial,
		status: partial,
	}
	r := newTestRouter(books, orders, nil)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeMakerPartial, result.Mode)
	// 10 shares at 0.41.
	assert.InDelta(t, 4.1, result.FilledUSD, 1e-9)
	assert.Contains(t, orders.canceled, "o1")
}

func TestMakerLateFillRecordedAfterCancel(t *testing.T) {
	// The GTC reads LIVE on every poll but matches between the last poll and
	// the cancel. The post-cancel status check must record the maker fill
	// instead of buying the position a second time through the fallback.
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{
		gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderLive},
		statusAfterCX: &types.OrderState{
			OrderID:      "o1",
			Status:       "MATCHED",
			Price:        0.41,
			OriginalSize: 24.39,
			SizeMatched:  24.39,
		},
		fokAcks: []*types.OrderAck{
			{OrderID: "o2", Status: types.OrderMatched, Price: 0.42},
		},
	}
	r := newTestRouter(books, orders, nil)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeMaker, result.Mode)
	assert.Equal(t, "o1", result.OrderID)
	assert.InDelta(t, 10.0, result.FilledUSD, 0.01)
	assert.Contains(t, orders.canceled, "o1")

	placed := orders.orders()
	require.Len(t, placed, 1)
	assert.Equal(t, "gtc", placed[0].kind)
}

func TestFastPathSlippagePadFromHistory(t *testing.T) {
	// Historical bucket slippage of 400 bps pushes the projection over the
	// 300 bps cap, so the fast path steps aside and the maker phase runs.
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderMatched}}
	stats := &stubStats{bankroll: 250, avgSlipBps: 400}
	r := newTestRouter(books, orders, stats)

	sig := testSignal()
	sig.ForceTaker = true
	sig.Entry = 0.42

	result, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.ModeMaker, result.Mode)

	for _, o := range orders.orders() {
		assert.NotEqual(t, "fok", o.kind)
	}
}

func TestTakerFallbackPayoutFloorRejects(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{
		gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderLive},
	}
	// Adaptive floor above the book's payout multiple (1/0.42 = 2.38).
	stats := &stubStats{bankroll: 250, payoutFloor: 2.5}
	r := newTestRouter(books, orders, stats)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Nil(t, result)

	for _, o := range orders.orders() {
		assert.NotEqual(t, "fok", o.kind)
	}
}

func TestTakerFallbackMaxEntryRejects(t *testing.T) {
	fresh := scenarioBook()
	fresh.BestAsk = 0.48
	fresh.Asks[0].Price = 0.48
	books := &stubBooks{book: scenarioBook(), fresh: fresh}
	orders := &stubOrders{
		gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderLive},
	}
	r := newTestRouter(books, orders, nil)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestTickGapBypassesToTaker(t *testing.T) {
	// Fine tick: the maker price lands 6 ticks above the bid, past the
	// limit of 3, so the router bypasses straight to a capped FOK. With
	// the FOK killed and a weak score there is no maker reprice: no fill.
	book := &types.BookSnapshot{
		TokenID:  "token-1",
		BestBid:  0.40,
		BestAsk:  0.41,
		TickSize: 0.001,
		Asks:     []types.BookLevel{{Price: 0.41, Size: 500}},
	}
	books := &stubBooks{book: book}
	orders := &stubOrders{} // every FOK comes back killed
	r := newTestRouter(books, orders, nil)

	result, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Nil(t, result)

	placed := orders.orders()
	require.Len(t, placed, 1)
	assert.Equal(t, "fok", placed[0].kind)
}

func TestRouteEventTrail(t *testing.T) {
	books := &stubBooks{book: scenarioBook()}
	orders := &stubOrders{gtcAck: &types.OrderAck{OrderID: "o1", Status: types.OrderMatched}}
	stats := &stubStats{bankroll: 250}
	r := newTestRouter(books, orders, stats)

	_, err := r.Route(context.Background(), testSignal())
	require.NoError(t, err)

	require.NotEmpty(t, stats.events)
	assert.Equal(t, types.EventOrderIntent, stats.events[0].Kind)
	assert.Equal(t, types.ModeMaker, stats.events[0].Mode)
}
