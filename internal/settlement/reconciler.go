package settlement

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/oracle"
	"github.com/betcore/sprintbet/pkg/types"
)

// Chain reads settlement truth and redeems winning positions.
type Chain interface {
	Payouts(ctx context.Context, conditionID string) (*oracle.Payouts, error)
	Redeem(ctx context.Context, conditionID string, outcomeIndex int) (string, error)
	USDCBalance(ctx context.Context) (float64, error)
	OutcomeBalance(ctx context.Context, tokenID string) (float64, error)
}

// Ledger is the position book the reconciler closes against.
type Ledger interface {
	PendingTrades() []*types.PendingTrade
	SettledFor(conditionID string) (*types.SettledOutcome, bool)
	RecordClose(ctx context.Context, o *types.SettledOutcome, redeemedUSD float64) (bool, error)
}

// Reconciler is the background loop that turns on-chain payout state into
// ledger-level win/loss records, exactly once per condition id.
type Reconciler struct {
	chain  Chain
	ledger Ledger
	logger *zap.Logger

	pollInterval time.Duration
	strict       bool
	waitLogEvery time.Duration

	mu       sync.Mutex
	waitLogs map[string]time.Time
}

// Config holds reconciler dependencies.
type Config struct {
	Chain        Chain
	Ledger       Ledger
	PollInterval time.Duration
	Strict       bool
	WaitLogEvery time.Duration
	Logger       *zap.Logger
}

// New creates a reconciler.
func New(cfg *Config) *Reconciler {
	return &Reconciler{
		chain:        cfg.Chain,
		ledger:       cfg.Ledger,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		strict:       cfg.Strict,
		waitLogEvery: cfg.WaitLogEvery,
		waitLogs:     make(map[string]time.Time),
	}
}

// Run blocks, reconciling on every poll tick until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler-starting",
		zap.Duration("poll-interval", r.pollInterval),
		zap.Bool("strict", r.strict))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler-stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick reconciles every pending position once. Sequential per tick; errors
// defer the position to the next tick, never guess.
func (r *Reconciler) Tick(ctx context.Context) {
	pending := r.ledger.PendingTrades()
	PendingPositions.Set(float64(len(pending)))

	for _, trade := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := r.reconcileOne(ctx, trade)
		if err != nil {
			TicksTotal.WithLabelValues("deferred").Inc()
			r.logger.Warn("settlement-deferred",
				zap.String("condition-id", trade.ConditionID),
				zap.Error(err))
		}
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, trade *types.PendingTrade) error {
	// Idempotency short-circuit: a recorded outcome only needs the pending
	// entry dropped.
	if outcome, done := r.ledger.SettledFor(trade.ConditionID); done {
		_, err := r.ledger.RecordClose(ctx, outcome, 0)
		return err
	}

	payouts, err := r.chain.Payouts(ctx, trade.ConditionID)
	if err != nil {
		return err
	}

	if !payouts.Reported {
		r.logWaiting(trade.ConditionID, "unresolved")
		return nil
	}

	winnerIdx := payouts.Winner()
	if winnerIdx < 0 {
		// Both numerators nonzero (or both zero): never resolved by
		// guessing, retried until the chain state is unambiguous.
		AmbiguousTotal.Inc()
		r.logWaiting(trade.ConditionID, "ambiguous")
		return nil
	}

	winnerSide := trade.Side
	if winnerIdx != trade.Side.Index() {
		winnerSide = trade.Side.Opposite()
	}

	if trade.Side == winnerSide {
		return r.settleWin(ctx, trade, winnerSide, winnerIdx)
	}
	return r.settleLoss(ctx, trade, winnerSide)
}

// settleWin converts a winning position to USDC, preferring a wallet redeem
// transaction; positions already swept by the exchange close under a
// non-wallet-redeem classification.
func (r *Reconciler) settleWin(ctx context.Context, trade *types.PendingTrade, winnerSide types.Side, winnerIdx int) error {
	balanceBefore, err := r.chain.USDCBalance(ctx)
	if err != nil {
		return err
	}

	tokenBalance, balErr := r.chain.OutcomeBalance(ctx, trade.TokenID)
	if balErr != nil {
		// Without an explicit balance read there is no safe classification.
		return balErr
	}

	if tokenBalance <= 0 {
		// Winning tokens already gone: auto-redeemed upstream, nothing left
		// to claim from this wallet.
		return r.closeWin(ctx, trade, winnerSide, "", types.ClassZeroBalance, r.sweptCredit(trade))
	}

	txHash, redeemErr := r.chain.Redeem(ctx, trade.ConditionID, winnerIdx)
	if redeemErr != nil {
		// Re-check claimability: a nonzero balance means the position is
		// still ours to redeem, so retry on a later tick.
		recheck, recheckErr := r.chain.OutcomeBalance(ctx, trade.TokenID)
		if recheckErr != nil {
			return redeemErr
		}
		if recheck > 0 {
			return redeemErr
		}
		return r.closeWin(ctx, trade, winnerSide, "", types.ClassAutoRedeemed, r.sweptCredit(trade))
	}

	balanceAfter, err := r.chain.USDCBalance(ctx)
	if err != nil {
		return err
	}

	redeemed := balanceAfter - balanceBefore
	if redeemed < 0 {
		redeemed = 0
	}

	return r.closeWin(ctx, trade, winnerSide, txHash, types.ClassWalletRedeem, redeemed)
}

// sweptCredit is the USDC credited for a win settled without a wallet redeem
// in this run. Strict mode refuses the share-count estimate and records only
// what was observed on chain (nothing), leaving bankroll correction to the
// operator.
func (r *Reconciler) sweptCredit(trade *types.PendingTrade) float64 {
	if r.strict {
		return 0
	}
	if trade.FillPrice <= 0 {
		return 0
	}
	// Each winning share redeems for one USDC.
	return trade.TotalStakeUSD() / trade.FillPrice
}

func (r *Reconciler) closeWin(
	ctx context.Context,
	trade *types.PendingTrade,
	winnerSide types.Side,
	txHash string,
	classification string,
	redeemedUSD float64,
) error {
	outcome := &types.SettledOutcome{
		ConditionID:    trade.ConditionID,
		RoundKey:       trade.RoundKey,
		Result:         types.ResultWin,
		WinnerSide:     winnerSide,
		PnLUSD:         redeemedUSD - trade.TotalStakeUSD(),
		RedeemTx:       txHash,
		Classification: classification,
		SettledAt:      time.Now().UTC(),
	}

	inserted, err := r.ledger.RecordClose(ctx, outcome, redeemedUSD)
	if err != nil {
		return err
	}
	if inserted {
		r.clearWaiting(trade.ConditionID)
		ClosesTotal.WithLabelValues(string(types.ResultWin), classification).Inc()
	}
	return nil
}

func (r *Reconciler) settleLoss(ctx context.Context, trade *types.PendingTrade, winnerSide types.Side) error {
	stake := trade.TotalStakeUSD()

	// The larger of the locally tracked stake and the on-chain open stake:
	// losing tokens still held value what was actually at risk.
	if balance, err := r.chain.OutcomeBalance(ctx, trade.TokenID); err == nil {
		stake = math.Max(stake, balance*trade.FillPrice)
	}

	outcome := &types.SettledOutcome{
		ConditionID: trade.ConditionID,
		RoundKey:    trade.RoundKey,
		Result:      types.ResultLoss,
		WinnerSide:  winnerSide,
		PnLUSD:      -stake,
		SettledAt:   time.Now().UTC(),
	}

	inserted, err := r.ledger.RecordClose(ctx, outcome, 0)
	if err != nil {
		return err
	}
	if inserted {
		r.clearWaiting(trade.ConditionID)
		ClosesTotal.WithLabelValues(string(types.ResultLoss), "").Inc()
	}
	return nil
}

// logWaiting emits a throttled status line for an unresolved market.
func (r *Reconciler) logWaiting(conditionID, state string) {
	r.mu.Lock()
	last, seen := r.waitLogs[conditionID]
	throttled := seen && time.Since(last) < r.waitLogEvery
	if !throttled {
		r.waitLogs[conditionID] = time.Now()
	}
	r.mu.Unlock()

	if throttled {
		return
	}

	r.logger.Info("settlement-waiting",
		zap.String("condition-id", conditionID),
		zap.String("state", state))
}

func (r *Reconciler) clearWaiting(conditionID string) {
	r.mu.Lock()
	delete(r.waitLogs, conditionID)
	r.mu.Unlock()
}
