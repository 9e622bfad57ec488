package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/types"
)

// Ledger is the single source of truth for bankroll, open positions, settled
// outcomes and bucket statistics. All mutation happens under one mutex and is
// written through to the store in the same call, so a bankroll read and its
// dependent write can never interleave with another mutation.
//
// Lifecycle: constructed once at startup (loading persisted state), torn down
// at shutdown after the store is flushed.
type Ledger struct {
	mu     sync.Mutex
	logger *zap.Logger
	store  storage.Store

	bankroll float64
	reserved float64
	pending  map[string]*types.PendingTrade   // keyed by condition id
	settled  map[string]*types.SettledOutcome // write-once per condition id
	stats    map[types.BucketKey]*types.BucketStat
}

// Config holds ledger configuration.
type Config struct {
	Logger             *zap.Logger
	Store              storage.Store
	InitialBankrollUSD float64
}

// Open constructs the ledger, reloading pending positions, settled outcomes,
// bucket statistics and bankroll from the store.
func Open(ctx context.Context, cfg *Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	l := &Ledger{
		logger:  cfg.Logger,
		store:   cfg.Store,
		pending: make(map[string]*types.PendingTrade),
		settled: make(map[string]*types.SettledOutcome),
		stats:   make(map[types.BucketKey]*types.BucketStat),
	}

	trades, err := cfg.Store.LoadPendingTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending trades: %w", err)
	}
	for _, t := range trades {
		l.pending[t.ConditionID] = t
	}

	outcomes, err := cfg.Store.LoadSettledOutcomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settled outcomes: %w", err)
	}
	for _, o := range outcomes {
		l.settled[o.ConditionID] = o
	}

	stats, err := cfg.Store.LoadBucketStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bucket stats: %w", err)
	}
	for _, s := range stats {
		l.stats[s.Key] = s
	}

	bankroll, found, err := cfg.Store.LoadBankroll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bankroll: %w", err)
	}
	if found {
		l.bankroll = bankroll
	} else {
		l.bankroll = cfg.InitialBankrollUSD
	}

	BankrollUSD.Set(l.bankroll)
	OpenPositions.Set(float64(len(l.pending)))

	cfg.Logger.Info("ledger-opened",
		zap.Float64("bankroll-usd", l.bankroll),
		zap.Int("pending-positions", len(l.pending)),
		zap.Int("settled-outcomes", len(l.settled)))

	return l, nil
}

// Bankroll returns the current bankroll.
func (l *Ledger) Bankroll() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bankroll
}

// Reserved returns the bankroll currently reserved by in-flight admissions.
func (l *Ledger) Reserved() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved
}

// Available returns bankroll minus reservations.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bankroll - l.reserved
}

// Reserve sets aside bankroll for an admitted signal. It fails when the
// unreserved bankroll cannot cover the amount.
func (l *Ledger) Reserve(amountUSD float64) error {
	if amountUSD <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %f", amountUSD)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bankroll-l.reserved < amountUSD {
		return fmt.Errorf("insufficient bankroll: available %.2f, need %.2f",
			l.bankroll-l.reserved, amountUSD)
	}

	l.reserved += amountUSD
	ReservedUSD.Set(l.reserved)
	return nil
}

// Release returns a reservation to the pool. Callers must release exactly
// what they reserved, exactly once.
func (l *Ledger) Release(amountUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reserved -= amountUSD
	if l.reserved < 0 {
		l.logger.Error("reservation-underflow", zap.Float64("reserved", l.reserved))
		l.reserved = 0
	}
	ReservedUSD.Set(l.reserved)
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Pending returns a copy of the open position for a condition id.
func (l *Ledger) Pending(conditionID string) (*types.PendingTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.pending[conditionID]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// PendingByRound returns the open position covering a round fingerprint and
// side, regardless of which condition id carries it.
func (l *Ledger) PendingByRound(fp types.RoundFingerprint, side types.Side) (*types.PendingTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range l.pending {
		if t.Fingerprint == fp && t.Side == side {
			cp := *t
			return &cp, true
		}
	}
	return nil, false
}

// PendingTrades returns copies of all open positions.
func (l *Ledger) PendingTrades() []*types.PendingTrade {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*types.PendingTrade, 0, len(l.pending))
	for _, t := range l.pending {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// SettledFor returns the write-once outcome for a condition id, if any.
func (l *Ledger) SettledFor(conditionID string) (*types.SettledOutcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.settled[conditionID]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// RecordOpen registers a confirmed fill: the bankroll is decremented by the
// staked notional and the pending trade is persisted in the same call.
func (l *Ledger) RecordOpen(ctx context.Context, t *types.PendingTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.pending[t.ConditionID]; exists {
		return fmt.Errorf("pending trade already exists for condition %s", t.ConditionID)
	}

	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	t.CoreEntryLocked = true

	cp := *t
	l.pending[t.ConditionID] = &cp
	l.bankroll -= t.NotionalUSD

	err := l.store.SavePendingTrade(ctx, &cp)
	if err != nil {
		return fmt.Errorf("persist pending trade: %w", err)
	}
	err = l.store.SaveBankroll(ctx, l.bankroll)
	if err != nil {
		return fmt.Errorf("persist bankroll: %w", err)
	}

	key := types.BucketFor(t.DurationMin, t.Score, t.EntryPrice)
	stat := l.statLocked(key)
	stat.Fills++
	stat.SlippageBpsSum += t.SlippageBps
	stat.StakedUSD += t.NotionalUSD
	err = l.store.SaveBucketStat(ctx, stat)
	if err != nil {
		return fmt.Errorf("persist bucket stat: %w", err)
	}

	event := types.NewEvent(types.EventFill)
	event.ConditionID = t.ConditionID
	event.RoundKey = t.RoundKey
	event.Side = t.Side
	event.Score = t.Score
	event.Edge = t.Edge
	event.SlippageBps = t.SlippageBps
	event.PriceUSD = t.FillPrice
	event.SizeUSD = t.NotionalUSD
	event.Mode = t.Mode
	err = l.store.AppendEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("append fill event: %w", err)
	}

	BankrollUSD.Set(l.bankroll)
	OpenPositions.Set(float64(len(l.pending)))
	FillsTotal.WithLabelValues(string(t.Mode)).Inc()

	l.logger.Info("position-opened",
		zap.String("condition-id", t.ConditionID),
		zap.String("side", string(t.Side)),
		zap.Float64("notional-usd", t.NotionalUSD),
		zap.Float64("fill-price", t.FillPrice),
		zap.String("mode", string(t.Mode)),
		zap.Float64("bankroll-usd", l.bankroll))

	return nil
}

// AttachBooster adds an add-on stake to an already-open core position. The
// core entry price is locked and never averaged.
func (l *Ledger) AttachBooster(ctx context.Context, conditionID string, stakeUSD, fillPrice float64, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.pending[conditionID]
	if !ok {
		return fmt.Errorf("no core position for condition %s", conditionID)
	}

	t.BoosterCount++
	t.BoosterStakeUSD += stakeUSD
	l.bankroll -= stakeUSD

	err := l.store.SavePendingTrade(ctx, t)
	if err != nil {
		return fmt.Errorf("persist pending trade: %w", err)
	}
	err = l.store.SaveBankroll(ctx, l.bankroll)
	if err != nil {
		return fmt.Errorf("persist bankroll: %w", err)
	}

	event := types.NewEvent(types.EventBooster)
	event.ConditionID = conditionID
	event.RoundKey = t.RoundKey
	event.Side = t.Side
	event.PriceUSD = fillPrice
	event.SizeUSD = stakeUSD
	err = l.store.AppendEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("append booster event: %w", err)
	}

	BankrollUSD.Set(l.bankroll)

	l.logger.Info("booster-attached",
		zap.String("condition-id", conditionID),
		zap.Float64("stake-usd", stakeUSD),
		zap.Int("booster-count", t.BoosterCount),
		zap.String("order-id", orderID))

	return nil
}

// RecordClose settles a position exactly once. The write-once outcome gates
// every bankroll and stat mutation: when the outcome already exists the call
// only drops the condition id from the pending set. redeemedUSD is the
// confirmed on-chain USDC credited by redemption (zero for a loss).
func (l *Ledger) RecordClose(ctx context.Context, o *types.SettledOutcome, redeemedUSD float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.settled[o.ConditionID]; done {
		l.dropPendingLocked(ctx, o.ConditionID)
		return false, nil
	}

	inserted, err := l.store.SaveSettledOutcome(ctx, o)
	if err != nil {
		return false, fmt.Errorf("persist settled outcome: %w", err)
	}
	if !inserted {
		// Another run already closed this market; converge local state.
		cp := *o
		l.settled[o.ConditionID] = &cp
		l.dropPendingLocked(ctx, o.ConditionID)
		return false, nil
	}

	cp := *o
	l.settled[o.ConditionID] = &cp

	trade := l.pending[o.ConditionID]
	l.bankroll += redeemedUSD
	err = l.store.SaveBankroll(ctx, l.bankroll)
	if err != nil {
		return false, fmt.Errorf("persist bankroll: %w", err)
	}

	if trade != nil {
		key := types.BucketFor(trade.DurationMin, trade.Score, trade.EntryPrice)
		stat := l.statLocked(key)
		if o.Result == types.ResultWin {
			stat.Wins++
		} else {
			stat.Losses++
		}
		stat.PnLUSD += o.PnLUSD
		err = l.store.SaveBucketStat(ctx, stat)
		if err != nil {
			return false, fmt.Errorf("persist bucket stat: %w", err)
		}
	}

	event := types.NewEvent(types.EventSettlement)
	event.ConditionID = o.ConditionID
	event.RoundKey = o.RoundKey
	event.Side = o.WinnerSide
	event.Result = o.Result
	event.PnLUSD = o.PnLUSD
	event.SizeUSD = redeemedUSD
	event.Reason = o.Classification
	err = l.store.AppendEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("append settlement event: %w", err)
	}

	l.dropPendingLocked(ctx, o.ConditionID)

	BankrollUSD.Set(l.bankroll)
	SettlementsTotal.WithLabelValues(string(o.Result)).Inc()
	SettlementPnLUSD.Observe(o.PnLUSD)

	l.logger.Info("position-closed",
		zap.String("condition-id", o.ConditionID),
		zap.String("result", string(o.Result)),
		zap.Float64("pnl-usd", o.PnLUSD),
		zap.Float64("redeemed-usd", redeemedUSD),
		zap.String("classification", o.Classification),
		zap.Float64("bankroll-usd", l.bankroll))

	return true, nil
}

func (l *Ledger) dropPendingLocked(ctx context.Context, conditionID string) {
	if _, ok := l.pending[conditionID]; !ok {
		return
	}
	delete(l.pending, conditionID)
	OpenPositions.Set(float64(len(l.pending)))

	err := l.store.DeletePendingTrade(ctx, conditionID)
	if err != nil {
		l.logger.Error("delete-pending-trade-failed",
			zap.String("condition-id", conditionID),
			zap.Error(err))
	}
}

// AppendEvent appends to the event log outside of open/close bookkeeping
// (admission decisions, no-fill outcomes).
func (l *Ledger) AppendEvent(ctx context.Context, e *types.Event) {
	err := l.store.AppendEvent(ctx, e)
	if err != nil {
		l.logger.Error("append-event-failed",
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}

func (l *Ledger) statLocked(key types.BucketKey) *types.BucketStat {
	s, ok := l.stats[key]
	if !ok {
		s = &types.BucketStat{Key: key}
		l.stats[key] = s
	}
	return s
}
