package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/pkg/types"
)

// Rejection reason codes. Rejections are expected control flow, not errors.
const (
	ReasonExecuting      = "executing"
	ReasonAlreadySeen    = "already_seen"
	ReasonOpenCap        = "open_cap"
	ReasonNoCorePosition = "no_core_position"
	ReasonBoosterLocked  = "booster_locked"
	ReasonBoosterCap     = "booster_cap"
	ReasonBlockWindow    = "block_window"
	ReasonCooldown       = "cooldown"
	ReasonRoundCovered   = "round_covered"
	ReasonBankroll       = "bankroll"
)

// Gate decides whether execution may proceed for a signal. Its decision body
// runs under one mutex held only across the synchronous checks, never across
// network calls, so router invocations for different markets stay concurrent
// while the same round/side can never be double-admitted.
type Gate struct {
	mu     sync.Mutex
	logger *zap.Logger
	ledger *ledger.Ledger

	maxOpenPositions int
	cooldown         time.Duration
	blockGrace       time.Duration
	boosterMaxPerID  int

	executing    map[string]struct{} // condition ids with a router invocation in flight
	seen         map[string]time.Time
	blockUntil   map[string]time.Time // (round, side, booster) -> window end
	lastAttempt  map[string]time.Time // (round|side) and (condition|side) cooldown keys
	boosterLocks map[string]struct{}
}

// Config holds gate configuration.
type Config struct {
	Logger           *zap.Logger
	Ledger           *ledger.Ledger
	MaxOpenPositions int
	Cooldown         time.Duration
	BlockGrace       time.Duration
	BoosterMaxPerID  int
}

// New creates a new admission gate.
func New(cfg *Config) (*Gate, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxOpenPositions <= 0 {
		return nil, fmt.Errorf("max open positions must be positive")
	}

	return &Gate{
		logger:           cfg.Logger,
		ledger:           cfg.Ledger,
		maxOpenPositions: cfg.MaxOpenPositions,
		cooldown:         cfg.Cooldown,
		blockGrace:       cfg.BlockGrace,
		boosterMaxPerID:  cfg.BoosterMaxPerID,
		executing:        make(map[string]struct{}),
		seen:             make(map[string]time.Time),
		blockUntil:       make(map[string]time.Time),
		lastAttempt:      make(map[string]time.Time),
		boosterLocks:     make(map[string]struct{}),
	}, nil
}

// Admission is the token returned for an admitted signal. Release must be
// called on every exit path; it is safe to call more than once and releases
// the reservation and executing mark exactly once.
type Admission struct {
	Signal *types.Signal
	gate   *Gate
	once   sync.Once
}

// Release clears the executing mark and returns the reserved bankroll.
func (a *Admission) Release() {
	a.once.Do(func() {
		a.gate.release(a.Signal)
	})
}

// Admit evaluates a signal. It either reserves execution rights and returns
// an admission token, or returns a rejection reason with no side effects.
func (g *Gate) Admit(ctx context.Context, sig *types.Signal) (*Admission, string) {
	adm, reason := g.decide(sig)

	if reason != "" {
		RejectionsTotal.WithLabelValues(reason).Inc()
		g.logger.Debug("admission-rejected",
			zap.String("condition-id", sig.ConditionID),
			zap.String("side", string(sig.Side)),
			zap.Bool("booster", sig.Booster),
			zap.String("reason", reason))

		// Event logging is I/O and stays outside the critical section.
		event := types.NewEvent(types.EventAdmissionRejected)
		event.ConditionID = sig.ConditionID
		event.RoundKey = sig.RoundKey()
		event.Side = sig.Side
		event.Score = sig.Score
		event.Edge = sig.Edge
		event.SizeUSD = sig.SizeUSD
		event.Reason = reason
		event.Source = sig.Source
		g.ledger.AppendEvent(ctx, event)

		return nil, reason
	}

	AdmissionsTotal.Inc()
	g.logger.Info("signal-admitted",
		zap.String("condition-id", sig.ConditionID),
		zap.String("side", string(sig.Side)),
		zap.Int("score", sig.Score),
		zap.Float64("size-usd", sig.SizeUSD),
		zap.Bool("booster", sig.Booster))

	event := types.NewEvent(types.EventAdmitted)
	event.ConditionID = sig.ConditionID
	event.RoundKey = sig.RoundKey()
	event.Side = sig.Side
	event.Score = sig.Score
	event.Edge = sig.Edge
	event.SizeUSD = sig.SizeUSD
	event.Source = sig.Source
	g.ledger.AppendEvent(ctx, event)

	return adm, ""
}

// decide runs the synchronous decision body under the gate mutex.
func (g *Gate) decide(sig *types.Signal) (*Admission, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.purgeLocked(now)

	if _, inFlight := g.executing[sig.ConditionID]; inFlight {
		return nil, ReasonExecuting
	}

	if !sig.Booster {
		if _, dup := g.seen[sig.ConditionID]; dup {
			return nil, ReasonAlreadySeen
		}
		if g.ledger.OpenCount() >= g.maxOpenPositions {
			return nil, ReasonOpenCap
		}
	} else {
		core, ok := g.ledger.Pending(sig.ConditionID)
		if !ok || core.Side != sig.Side {
			return nil, ReasonNoCorePosition
		}
		if _, locked := g.boosterLocks[sig.ConditionID]; locked {
			return nil, ReasonBoosterLocked
		}
		if core.BoosterCount >= g.boosterMaxPerID {
			return nil, ReasonBoosterCap
		}
	}

	blockKey := blockKeyFor(sig)
	if until, blocked := g.blockUntil[blockKey]; blocked && now.Before(until) {
		return nil, ReasonBlockWindow
	}

	roundSideKey := string(sig.RoundKey())
	condSideKey := fmt.Sprintf("%s|%s", sig.ConditionID, sig.Side)
	if last, ok := g.lastAttempt[roundSideKey]; ok && now.Sub(last) < g.cooldown {
		return nil, ReasonCooldown
	}
	if last, ok := g.lastAttempt[condSideKey]; ok && now.Sub(last) < g.cooldown {
		return nil, ReasonCooldown
	}

	if !sig.Booster {
		// Cross-id drift guard: a different condition id may already cover
		// this economic round and side.
		if _, covered := g.ledger.PendingByRound(sig.Fingerprint(), sig.Side); covered {
			return nil, ReasonRoundCovered
		}
	}

	err := g.ledger.Reserve(sig.SizeUSD)
	if err != nil {
		return nil, ReasonBankroll
	}

	g.lastAttempt[roundSideKey] = now
	g.lastAttempt[condSideKey] = now
	g.executing[sig.ConditionID] = struct{}{}
	if sig.Booster {
		g.boosterLocks[sig.ConditionID] = struct{}{}
	} else {
		g.seen[sig.ConditionID] = now
	}
	g.blockUntil[blockKey] = sig.MarketEnd.Add(g.blockGrace)

	ExecutingInFlight.Set(float64(len(g.executing)))

	return &Admission{Signal: sig, gate: g}, ""
}

func (g *Gate) release(sig *types.Signal) {
	g.mu.Lock()
	delete(g.executing, sig.ConditionID)
	delete(g.boosterLocks, sig.ConditionID)
	ExecutingInFlight.Set(float64(len(g.executing)))
	g.mu.Unlock()

	g.ledger.Release(sig.SizeUSD)
}

// purgeLocked drops expired block windows and the attempt bookkeeping that
// outlived them.
func (g *Gate) purgeLocked(now time.Time) {
	for key, until := range g.blockUntil {
		if now.After(until) {
			delete(g.blockUntil, key)
		}
	}
	for key, at := range g.seen {
		if now.Sub(at) > 24*time.Hour {
			delete(g.seen, key)
		}
	}
	for key, at := range g.lastAttempt {
		if now.Sub(at) > g.cooldown {
			delete(g.lastAttempt, key)
		}
	}
}

func blockKeyFor(sig *types.Signal) string {
	return fmt.Sprintf("%s|booster=%t", sig.RoundKey(), sig.Booster)
}
