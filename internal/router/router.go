package router

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/config"
	"github.com/betcore/sprintbet/pkg/types"
)

// BookSource serves order book snapshots. Book may return a cached snapshot
// within the freshness budget; Refresh always hits the exchange.
type BookSource interface {
	Book(ctx context.Context, tokenID string) (*types.BookSnapshot, error)
	Refresh(ctx context.Context, tokenID string) (*types.BookSnapshot, error)
}

// OrderPlacer submits and tracks orders on the exchange.
type OrderPlacer interface {
	PlaceGTC(ctx context.Context, tokenID string, price, shares float64) (*types.OrderAck, error)
	PlaceFOK(ctx context.Context, tokenID string, amountUSD, capPrice float64) (*types.OrderAck, error)
	Status(ctx context.Context, orderID string) (*types.OrderState, error)
	Cached(orderID string) (*types.OrderState, bool)
	Cancel(ctx context.Context, orderID string) error
}

// Stats supplies bankroll and adaptive floors from the ledger.
type Stats interface {
	Bankroll() float64
	PayoutFloorFor(durationMin, score int, entry, baseFloor float64) float64
	AvgSlippageFor(durationMin, score int, entry float64) float64
	AppendEvent(ctx context.Context, e *types.Event)
}

// Router runs the maker-then-taker execution protocol for admitted signals.
type Router struct {
	books  BookSource
	orders OrderPlacer
	stats  Stats
	cfg    *config.Config
	logger *zap.Logger
}

// Config holds router dependencies.
type Config struct {
	Books  BookSource
	Orders OrderPlacer
	Stats  Stats
	Cfg    *config.Config
	Logger *zap.Logger
}

// New creates a router.
func New(cfg *Config) *Router {
	return &Router{
		books:  cfg.Books,
		orders: cfg.Orders,
		stats:  cfg.Stats,
		cfg:    cfg.Cfg,
		logger: cfg.Logger,
	}
}

// No-fill reason codes.
const (
	reasonBelowFloor      = "below_floor"
	reasonSpread          = "spread_cap"
	reasonEdge            = "edge_floor"
	reasonTickGap         = "tick_gap"
	reasonMaxEntry        = "max_entry"
	reasonPayoutFloor     = "payout_floor"
	reasonEVFloor         = "ev_floor"
	reasonSlippage        = "slippage_cap"
	reasonDepth           = "depth"
	reasonTakerKilled     = "taker_killed"
	reasonMakerTimeout    = "maker_timeout"
	reasonRetriesExceeded = "retries_exceeded"
)

// Route runs the full protocol for one admitted signal, retrying transient
// failures up to the configured attempt bound. A nil result with nil error
// means no fill.
func (r *Router) Route(ctx context.Context, sig *types.Signal) (*types.ExecutionResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.RouteMaxAttempts; attempt++ {
		result, err := r.routeOnce(ctx, sig)
		if err == nil {
			if result != nil {
				FillsTotal.WithLabelValues(string(result.Mode)).Inc()
			}
			return result, nil
		}
		lastErr = err

		var backoff time.Duration
		switch {
		case types.IsRateLimited(err):
			backoff = r.cfg.RateLimitBackoff * time.Duration(attempt)
			RetriesTotal.WithLabelValues("rate_limit").Inc()
		case types.IsTransient(err):
			backoff = r.cfg.TransientBackoff
			RetriesTotal.WithLabelValues("transient").Inc()
		default:
			// Unexpected failure: abandon the attempt, never blind-retry.
			r.logger.Error("route-attempt-abandoned",
				zap.String("condition-id", sig.ConditionID),
				zap.Error(err))
			return nil, nil
		}

		r.logger.Warn("route-attempt-retrying",
			zap.String("condition-id", sig.ConditionID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	r.noFill(ctx, sig, reasonRetriesExceeded, zap.Error(lastErr))
	return nil, nil
}

// routeOnce is one pass through Phase 0 gating, the maker phase and the taker
// fallback. Returned errors are candidates for the retry policy; no-fill
// outcomes come back as (nil, nil).
func (r *Router) routeOnce(ctx context.Context, sig *types.Signal) (*types.ExecutionResult, error) {
	// Size floor first: sub-floor signals never reach book-dependent gating.
	size, ok := r.effectiveSize(sig)
	if !ok {
		r.noFill(ctx, sig, reasonBelowFloor, zap.Float64("size-usd", sig.SizeUSD))
		return nil, nil
	}

	book, err := r.books.Book(ctx, sig.TokenID)
	if err != nil {
		return nil, fmt.Errorf("fetch book: %w", err)
	}

	if !sig.UseLimit && book.Spread() > r.spreadCap(sig.DurationMin) {
		r.noFill(ctx, sig, reasonSpread, zap.Float64("spread", book.Spread()))
		return nil, nil
	}

	if !r.edgeOK(sig, book) {
		r.noFill(ctx, sig, reasonEdge,
			zap.Float64("true-prob", sig.TrueProb),
			zap.Float64("best-ask", book.BestAsk))
		return nil, nil
	}

	// Phase 0 fast path: immediate FOK when conviction, spread and edge
	// jointly clear the stricter bar, or the round is about to close.
	if r.fastPathEligible(sig, book) {
		result, killed, fastErr := r.tryFOK(ctx, sig, book, size, types.ModeFOK)
		if fastErr != nil {
			return nil, fastErr
		}
		if result != nil {
			return result, nil
		}
		if killed {
			// A killed FOK falls through to the maker phase on the same
			// snapshot, not a stale pre-kill price.
			r.logger.Info("fok-killed-falling-to-maker",
				zap.String("condition-id", sig.ConditionID))
		}
	}

	return r.makerPhase(ctx, sig, book, size)
}

// effectiveSize applies the hard floor, bumping to forced-coverage minimum
// for flagged core positions within the bankroll fraction cap.
func (r *Router) effectiveSize(sig *types.Signal) (float64, bool) {
	size := sig.SizeUSD
	if size >= r.cfg.MinNotionalUSD {
		return size, true
	}

	if sig.Booster || !sig.RoundForce {
		return 0, false
	}

	bumped := math.Max(r.cfg.ForcedCoverageMinUSD, r.cfg.MinNotionalUSD)
	cap := r.stats.Bankroll() * r.cfg.ForcedCoverageBankrollFrac
	if bumped > cap {
		return 0, false
	}
	return bumped, true
}

// edgeOK applies the edge floor with its variants: penalty on oracle
// disagreement, maker edge for high conviction, relaxed floor for forced
// coverage, skipped entirely for fixed-price limit orders.
func (r *Router) edgeOK(sig *types.Signal, book *types.BookSnapshot) bool {
	if sig.UseLimit {
		return true
	}

	floor := r.cfg.EdgeFloor
	if sig.OracleDisagree {
		floor += r.cfg.OracleDisagreePenalty
	}
	if sig.RoundForce {
		floor = r.cfg.RoundForceEdgeFloor
	}

	edge := sig.TrueProb - book.BestAsk // taker edge
	if sig.Score >= r.cfg.HighConvictionScore {
		edge = sig.TrueProb - book.Mid() // maker edge
	}

	return edge >= floor
}

func (r *Router) fastPathEligible(sig *types.Signal, book *types.BookSnapshot) bool {
	if sig.UseLimit {
		return false
	}
	if sig.ForceTaker {
		return true
	}
	if time.Until(sig.MarketEnd) <= r.cfg.NearCloseWindow {
		return true
	}
	return sig.Score >= r.cfg.HighConvictionScore &&
		book.Spread() <= r.cfg.FastPathSpreadMax &&
		sig.TrueProb-book.BestAsk >= r.cfg.FastPathEdgeMin
}

// tryFOK runs the depth and slippage checks against the capped price and
// submits a FOK taker order. Returns killed=true when the order was not
// instantly matched; gate failures return (nil, false, nil) silently so the
// caller can continue to the maker phase.
func (r *Router) tryFOK(
	ctx context.Context,
	sig *types.Signal,
	book *types.BookSnapshot,
	size float64,
	mode types.ExecMode,
) (*types.ExecutionResult, bool, error) {
	capPrice := r.maxEntry(sig)

	if book.AskDepthUSD(capPrice) < r.cfg.DepthMultiple*size {
		// One refresh before giving up on depth.
		fresh, err := r.books.Refresh(ctx, sig.TokenID)
		if err != nil {
			return nil, false, fmt.Errorf("refresh book: %w", err)
		}
		book = fresh
		if book.AskDepthUSD(capPrice) < r.cfg.DepthMultiple*size {
			r.logger.Debug("fast-path-depth-insufficient",
				zap.String("condition-id", sig.ConditionID),
				zap.Float64("depth-usd", book.AskDepthUSD(capPrice)))
			return nil, false, nil
		}
	}

	vwap, covered := book.ProjectedFill(size, capPrice)
	if covered < size {
		return nil, false, nil
	}
	// The bucket's realized slippage pads the projection: books that have
	// historically moved against us burn cap headroom before the order lands.
	projected := slippageBps(sig.TargetPrice(), vwap) +
		r.stats.AvgSlippageFor(sig.DurationMin, sig.Score, sig.Entry)
	if projected > r.slippageCap(sig.DurationMin) {
		r.logger.Debug("fast-path-slippage-over-cap",
			zap.String("condition-id", sig.ConditionID),
			zap.Float64("vwap", vwap),
			zap.Float64("projected-bps", projected))
		return nil, false, nil
	}

	r.orderIntent(ctx, sig, capPrice, size, mode)

	ack, err := r.orders.PlaceFOK(ctx, sig.TokenID, size, capPrice)
	if err != nil {
		return nil, false, err
	}

	switch ack.Status {
	case types.OrderMatched:
		fillPrice := ack.Price
		if fillPrice == 0 {
			fillPrice = vwap
		}
		return &types.ExecutionResult{
			OrderID:   ack.OrderID,
			FillPrice: fillPrice,
			Mode:      mode,
			FilledUSD: size,
		}, false, nil
	case types.OrderKilled:
		return nil, true, nil
	default:
		// Delayed or live FOK: one status re-check before concluding.
		if ack.OrderID == "" {
			return nil, true, nil
		}
		state, statusErr := r.orders.Status(ctx, ack.OrderID)
		if statusErr == nil && state.FullyMatched() {
			return &types.ExecutionResult{
				OrderID:   ack.OrderID,
				FillPrice: state.Price,
				Mode:      mode,
				FilledUSD: size,
			}, false, nil
		}
		return nil, true, nil
	}
}

// makerPhase posts a GTC order at the computed maker price and polls it for
// a bounded wait, falling back to a taker order on timeout.
func (r *Router) makerPhase(
	ctx context.Context,
	sig *types.Signal,
	book *types.BookSnapshot,
	size float64,
) (*types.ExecutionResult, error) {
	price, ok := r.makerPrice(sig, book)
	if !ok {
		gapResult, err := r.tickGapBypass(ctx, sig, book, size)
		if err != nil || gapResult == nil {
			return gapResult, err
		}
		return gapResult, nil
	}

	return r.postMaker(ctx, sig, book, size, price)
}

// makerPrice computes the resting price. ok=false means the tick-gap limit
// was exceeded and the caller must bypass or reprice.
func (r *Router) makerPrice(sig *types.Signal, book *types.BookSnapshot) (float64, bool) {
	tick := book.TickSize

	if sig.UseLimit {
		return math.Max(sig.LimitPrice, tick), true
	}

	raw := math.Min(book.Mid()+tick, book.BestAsk-tick)
	raw = math.Min(raw, sig.TargetPrice()+r.cfg.TargetTolerance)
	price := roundToTick(raw, tick)
	if price < tick {
		price = tick
	}

	gap := (price - book.BestBid) / tick
	if gap > float64(r.tickGapLimit(sig.DurationMin)) {
		return price, false
	}

	return price, true
}

// tickGapBypass handles a maker price too far from the bid: go straight to a
// capped taker if its checks pass, reprice for strong or forced signals,
// otherwise reject.
func (r *Router) tickGapBypass(
	ctx context.Context,
	sig *types.Signal,
	book *types.BookSnapshot,
	size float64,
) (*types.ExecutionResult, error) {
	result, _, err := r.tryFOK(ctx, sig, book, size, types.ModeFOK)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	if sig.Score >= r.cfg.HighConvictionScore || sig.RoundForce {
		tick := book.TickSize
		reprice := book.BestBid + float64(r.tickGapLimit(sig.DurationMin))*tick
		reprice = roundToTick(math.Min(reprice, book.BestAsk-tick), tick)
		if reprice >= tick {
			return r.postMaker(ctx, sig, book, size, reprice)
		}
	}

	r.noFill(ctx, sig, reasonTickGap, zap.Float64("best-bid", book.BestBid))
	return nil, nil
}

func (r *Router) postMaker(
	ctx context.Context,
	sig *types.Signal,
	book *types.BookSnapshot,
	size float64,
	price float64,
) (*types.ExecutionResult, error) {
	shares, notional := normalizeSize(size, price)
	if notional < r.cfg.MinNotionalUSD {
		r.noFill(ctx, sig, reasonBelowFloor, zap.Float64("normalized-usd", notional))
		return nil, nil
	}

	r.orderIntent(ctx, sig, price, notional, types.ModeMaker)

	ack, err := r.orders.PlaceGTC(ctx, sig.TokenID, price, shares)
	if err != nil {
		return nil, err
	}

	if ack.Status == types.OrderMatched {
		return &types.ExecutionResult{
			OrderID:   ack.OrderID,
			FillPrice: price,
			Mode:      types.ModeMaker,
			FilledUSD: notional,
		}, nil
	}
	if ack.Status == types.OrderKilled {
		return r.takerFallback(ctx, sig, size)
	}

	result, err := r.pollMaker(ctx, sig, ack.OrderID, price, notional)
	if err != nil || result != nil {
		return result, err
	}

	return r.takerFallback(ctx, sig, size)
}

// pollMaker watches a resting order for the bounded wait budget, consulting
// the order-event cache and a throttled direct status query on alternating
// polls. Returns nil when the order timed out unfilled (after cancelling).
func (r *Router) pollMaker(
	ctx context.Context,
	sig *types.Signal,
	orderID string,
	price float64,
	notional float64,
) (*types.ExecutionResult, error) {
	wait := r.cfg.MakerWait
	if sig.Score >= r.cfg.HighConvictionScore ||
		r.cfg.SpeedPriority ||
		time.Until(sig.MarketEnd) <= r.cfg.NearCloseWindow {
		wait = r.cfg.MakerWaitFast
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(r.cfg.MakerPollInterval)
	defer ticker.Stop()

	var partialUSD float64
	direct := false

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			_ = r.orders.Cancel(context.WithoutCancel(ctx), orderID)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var state *types.OrderState
		if direct {
			queried, err := r.orders.Status(ctx, orderID)
			if err != nil {
				r.logger.Debug("maker-status-error", zap.Error(err))
				direct = !direct
				continue
			}
			state = queried
		} else {
			cached, found := r.orders.Cached(orderID)
			if !found {
				direct = !direct
				continue
			}
			state = cached
		}
		direct = !direct

		if state.FullyMatched() {
			return &types.ExecutionResult{
				OrderID:   orderID,
				FillPrice: price,
				Mode:      types.ModeMaker,
				FilledUSD: notional,
			}, nil
		}

		if filled := state.SizeMatched * price; filled >= r.cfg.DustMinUSD {
			partialUSD = filled
		}
	}

	// Cancel is best-effort: an order found already filled is not a failure.
	_ = r.orders.Cancel(ctx, orderID)

	// Re-check once after cancel. A fill that lands between the last poll and
	// the cancel must be recorded here, never re-bought by the taker fallback.
	if state, err := r.orders.Status(ctx, orderID); err == nil {
		if state.FullyMatched() {
			return &types.ExecutionResult{
				OrderID:   orderID,
				FillPrice: price,
				Mode:      types.ModeMaker,
				FilledUSD: notional,
			}, nil
		}
		if filled := state.SizeMatched * price; filled >= r.cfg.DustMinUSD && filled > partialUSD {
			partialUSD = filled
		}
	}

	if partialUSD > 0 {
		return &types.ExecutionResult{
			OrderID:   orderID,
			FillPrice: price,
			Mode:      types.ModeMakerPartial,
			FilledUSD: partialUSD,
		}, nil
	}

	r.logger.Info("maker-timed-out",
		zap.String("condition-id", sig.ConditionID),
		zap.String("order-id", orderID))

	return nil, nil
}

// takerFallback re-validates against a guaranteed-fresh book and submits a
// capped FOK.
func (r *Router) takerFallback(ctx context.Context, sig *types.Signal, size float64) (*types.ExecutionResult, error) {
	book, err := r.books.Refresh(ctx, sig.TokenID)
	if err != nil {
		return nil, fmt.Errorf("refresh book: %w", err)
	}

	if book.Spread() > r.spreadCap(sig.DurationMin) {
		r.noFill(ctx, sig, reasonSpread, zap.Float64("spread", book.Spread()))
		return nil, nil
	}

	maxEntry := r.maxEntry(sig) + r.cfg.NearMissTolerance
	if book.BestAsk > maxEntry {
		r.noFill(ctx, sig, reasonMaxEntry,
			zap.Float64("best-ask", book.BestAsk),
			zap.Float64("max-entry", maxEntry))
		return nil, nil
	}

	if !sig.RoundForce {
		floor := r.stats.PayoutFloorFor(sig.DurationMin, sig.Score, sig.Entry, r.cfg.PayoutFloor)
		if 1/book.BestAsk < floor {
			r.noFill(ctx, sig, reasonPayoutFloor,
				zap.Float64("payout", 1/book.BestAsk),
				zap.Float64("floor", floor))
			return nil, nil
		}
	}

	if ev := sig.TrueProb/book.BestAsk - 1; ev < r.cfg.EVFloor {
		r.noFill(ctx, sig, reasonEVFloor, zap.Float64("ev", ev))
		return nil, nil
	}

	if !r.edgeOK(sig, book) {
		r.noFill(ctx, sig, reasonEdge, zap.Float64("best-ask", book.BestAsk))
		return nil, nil
	}

	vwap, covered := book.ProjectedFill(size, maxEntry)
	if covered < size {
		r.noFill(ctx, sig, reasonDepth, zap.Float64("covered-usd", covered))
		return nil, nil
	}
	if slippageBps(sig.TargetPrice(), vwap) > r.slippageCap(sig.DurationMin) {
		r.noFill(ctx, sig, reasonSlippage, zap.Float64("vwap", vwap))
		return nil, nil
	}

	r.orderIntent(ctx, sig, maxEntry, size, types.ModeFOKFallback)

	ack, err := r.orders.PlaceFOK(ctx, sig.TokenID, size, maxEntry)
	if err != nil {
		return nil, err
	}

	switch ack.Status {
	case types.OrderMatched:
		fillPrice := ack.Price
		if fillPrice == 0 {
			fillPrice = vwap
		}
		return &types.ExecutionResult{
			OrderID:   ack.OrderID,
			FillPrice: fillPrice,
			Mode:      types.ModeFOKFallback,
			FilledUSD: size,
		}, nil
	case types.OrderKilled:
		r.noFill(ctx, sig, reasonTakerKilled)
		return nil, nil
	default:
		if ack.OrderID != "" {
			state, statusErr := r.orders.Status(ctx, ack.OrderID)
			if statusErr == nil && state.FullyMatched() {
				return &types.ExecutionResult{
					OrderID:   ack.OrderID,
					FillPrice: state.Price,
					Mode:      types.ModeFOKFallback,
					FilledUSD: size,
				}, nil
			}
		}
		r.noFill(ctx, sig, reasonTakerKilled)
		return nil, nil
	}
}

// maxEntry is the capped price a taker order is allowed to pay.
func (r *Router) maxEntry(sig *types.Signal) float64 {
	return sig.TargetPrice() + r.cfg.TargetTolerance
}

// durationScale maps round duration to a gate scale: short rounds get tighter
// caps, long rounds looser, anchored at 15 minutes.
func durationScale(durationMin int) float64 {
	scale := float64(durationMin) / 15.0
	return math.Min(math.Max(scale, 0.5), 2.0)
}

func (r *Router) spreadCap(durationMin int) float64 {
	return r.cfg.SpreadCapBase * durationScale(durationMin)
}

func (r *Router) slippageCap(durationMin int) float64 {
	return r.cfg.SlippageCapBps * durationScale(durationMin)
}

func (r *Router) tickGapLimit(durationMin int) int {
	limit := int(math.Round(float64(r.cfg.TickGapLimit) * durationScale(durationMin)))
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (r *Router) noFill(ctx context.Context, sig *types.Signal, reason string, fields ...zap.Field) {
	NoFillsTotal.WithLabelValues(reason).Inc()

	all := append([]zap.Field{
		zap.String("condition-id", sig.ConditionID),
		zap.String("reason", reason),
	}, fields...)
	r.logger.Info("no-fill", all...)

	e := types.NewEvent(types.EventNoFill)
	e.ConditionID = sig.ConditionID
	e.RoundKey = sig.RoundKey()
	e.Side = sig.Side
	e.Score = sig.Score
	e.Edge = sig.Edge
	e.Reason = reason
	e.Source = sig.Source
	r.stats.AppendEvent(ctx, e)
}

// orderIntent write-aheads the intent to place an order, so a crash between
// submission and the recorded fill leaves a reconstructable trail.
func (r *Router) orderIntent(ctx context.Context, sig *types.Signal, price, size float64, mode types.ExecMode) {
	e := types.NewEvent(types.EventOrderIntent)
	e.ConditionID = sig.ConditionID
	e.RoundKey = sig.RoundKey()
	e.Side = sig.Side
	e.Score = sig.Score
	e.Edge = sig.Edge
	e.PriceUSD = price
	e.SizeUSD = size
	e.Mode = mode
	e.Source = sig.Source
	r.stats.AppendEvent(ctx, e)
}

// normalizeSize floors the share count to the exchange's two-decimal
// granularity and recomputes the notional.
func normalizeSize(sizeUSD, price float64) (shares, notional float64) {
	shares = math.Floor(sizeUSD/price*100) / 100
	return shares, shares * price
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// slippageBps measures projected fill cost against the target price.
func slippageBps(target, vwap float64) float64 {
	if target <= 0 {
		return 0
	}
	return (vwap - target) / target * 10000
}
