package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/types"
)

func testGate(t *testing.T, maxOpen int) (*Gate, *ledger.Ledger) {
	t.Helper()
	store := storage.NewMemoryStore(zap.NewNop())
	led, err := ledger.Open(context.Background(), &ledger.Config{
		Logger:             zap.NewNop(),
		Store:              store,
		InitialBankrollUSD: 1000,
	})
	require.NoError(t, err)

	gate, err := New(&Config{
		Logger:           zap.NewNop(),
		Ledger:           led,
		MaxOpenPositions: maxOpen,
		Cooldown:         20 * time.Second,
		BlockGrace:       90 * time.Second,
		BoosterMaxPerID:  2,
	})
	require.NoError(t, err)
	return gate, led
}

func testSignal(conditionID string) *types.Signal {
	return &types.Signal{
		Asset:       "BTC",
		DurationMin: 15,
		Side:        types.SideUp,
		Score:       8,
		TrueProb:    0.55,
		Entry:       0.42,
		Edge:        0.13,
		SizeUSD:     10,
		TokenID:     "tok-" + conditionID,
		ConditionID: conditionID,
		MarketEnd:   time.Now().Add(10 * time.Minute),
		MinutesLeft: 10,
	}
}

func TestAdmitThenReleaseNetZeroReservation(t *testing.T) {
	gate, led := testGate(t, 3)
	ctx := context.Background()

	before := led.Reserved()

	adm, reason := gate.Admit(ctx, testSignal("0xaaa"))
	require.Empty(t, reason)
	require.NotNil(t, adm)
	require.InDelta(t, before+10, led.Reserved(), 1e-9)

	adm.Release()
	require.InDelta(t, before, led.Reserved(), 1e-9)

	// Release is idempotent.
	adm.Release()
	require.InDelta(t, before, led.Reserved(), 1e-9)
}

func TestSingleFlightPerConditionID(t *testing.T) {
	gate, _ := testGate(t, 100)
	ctx := context.Background()

	const attempts = 32
	var admitted int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, reason := gate.Admit(ctx, testSignal("0xsame"))
			if reason == "" {
				mu.Lock()
				admitted++
				mu.Unlock()
				_ = adm // held open: do not release, the round stays in flight
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, admitted, "only one admission may win for the same condition id")
}

func TestDuplicateSuppressionAfterRelease(t *testing.T) {
	gate, _ := testGate(t, 3)
	ctx := context.Background()

	adm, reason := gate.Admit(ctx, testSignal("0xaaa"))
	require.Empty(t, reason)
	adm.Release()

	// Same condition id was already seen; re-admission must fail even after
	// the executing mark is cleared.
	_, reason = gate.Admit(ctx, testSignal("0xaaa"))
	require.Equal(t, ReasonAlreadySeen, reason)
}

func TestOpenPositionCap(t *testing.T) {
	gate, led := testGate(t, 1)
	ctx := context.Background()

	require.NoError(t, led.RecordOpen(ctx, &types.PendingTrade{
		ConditionID: "0xopen",
		Side:        types.SideUp,
		Fingerprint: "ETH|15m|1",
		NotionalUSD: 10,
		EntryPrice:  0.5,
		DurationMin: 15,
	}))

	_, reason := gate.Admit(ctx, testSignal("0xbbb"))
	require.Equal(t, ReasonOpenCap, reason)
}

func TestRoundFingerprintDriftGuard(t *testing.T) {
	gate, led := testGate(t, 5)
	ctx := context.Background()

	sig := testSignal("0xccc")

	// Another condition id already covers the same round and side.
	require.NoError(t, led.RecordOpen(ctx, &types.PendingTrade{
		ConditionID: "0xother",
		Side:        sig.Side,
		Fingerprint: sig.Fingerprint(),
		NotionalUSD: 10,
		EntryPrice:  0.5,
		DurationMin: sig.DurationMin,
	}))

	_, reason := gate.Admit(ctx, sig)
	require.Equal(t, ReasonRoundCovered, reason)
}

func TestCooldownRejectsRapidRetry(t *testing.T) {
	gate, _ := testGate(t, 5)
	ctx := context.Background()

	first := testSignal("0xddd")
	adm, reason := gate.Admit(ctx, first)
	require.Empty(t, reason)
	adm.Release()

	// A different condition id for the same round and side within the
	// cooldown window is also rejected: block window or cooldown both stop it.
	second := testSignal("0xeee")
	second.MarketEnd = first.MarketEnd
	_, reason = gate.Admit(ctx, second)
	require.NotEmpty(t, reason)
}

func TestBoosterRequiresCorePosition(t *testing.T) {
	gate, led := testGate(t, 5)
	ctx := context.Background()

	boost := testSignal("0xfff")
	boost.Booster = true

	_, reason := gate.Admit(ctx, boost)
	require.Equal(t, ReasonNoCorePosition, reason)

	// Open a core position on the opposite side: still no booster.
	require.NoError(t, led.RecordOpen(ctx, &types.PendingTrade{
		ConditionID: boost.ConditionID,
		Side:        types.SideDown,
		Fingerprint: boost.Fingerprint(),
		NotionalUSD: 10,
		EntryPrice:  0.5,
		DurationMin: boost.DurationMin,
	}))
	_, reason = gate.Admit(ctx, boost)
	require.Equal(t, ReasonNoCorePosition, reason)
}

func TestBoosterUsageCap(t *testing.T) {
	gate, led := testGate(t, 5)
	ctx := context.Background()

	boost := testSignal("0x111")
	boost.Booster = true

	require.NoError(t, led.RecordOpen(ctx, &types.PendingTrade{
		ConditionID: boost.ConditionID,
		Side:        boost.Side,
		Fingerprint: boost.Fingerprint(),
		NotionalUSD: 10,
		EntryPrice:  0.5,
		DurationMin: boost.DurationMin,
		BoosterCount: 2, // already at the per-id cap
	}))

	_, reason := gate.Admit(ctx, boost)
	require.Equal(t, ReasonBoosterCap, reason)
}

func TestInsufficientBankroll(t *testing.T) {
	gate, _ := testGate(t, 5)
	ctx := context.Background()

	sig := testSignal("0x222")
	sig.SizeUSD = 5000 // above the 1000 bankroll

	_, reason := gate.Admit(ctx, sig)
	require.Equal(t, ReasonBankroll, reason)
}
