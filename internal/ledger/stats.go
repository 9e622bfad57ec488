package ledger

import (
	"math"

	"github.com/betcore/sprintbet/pkg/types"
)

// minBucketSamples is the settled-outcome count a bucket needs before its
// history may tighten the router's floors.
const minBucketSamples = 10

// Stat returns a copy of the bucket's aggregate, if recorded.
func (l *Ledger) Stat(key types.BucketKey) (*types.BucketStat, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stats[key]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// PayoutFloorFor returns the payout-multiple floor for a prospective fill.
// With enough settled history in the bucket, the floor rises to the inverse
// of the observed win rate: paying more than history supports is -EV even
// when the model's edge looks fine.
func (l *Ledger) PayoutFloorFor(durationMin, score int, entry, baseFloor float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stats[types.BucketFor(durationMin, score, entry)]
	if !ok || s.Settled() < minBucketSamples {
		return baseFloor
	}

	winRate := s.WinRate()
	if winRate <= 0 {
		return baseFloor
	}

	implied := 1 / math.Max(winRate, 0.05)
	if implied > baseFloor {
		return implied
	}
	return baseFloor
}

// AvgSlippageFor returns the bucket's observed average slippage in bps, or
// zero with insufficient history. The router adds it to the projected
// slippage of a fast-path taker order.
func (l *Ledger) AvgSlippageFor(durationMin, score int, entry float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stats[types.BucketFor(durationMin, score, entry)]
	if !ok || s.Fills < minBucketSamples {
		return 0
	}
	return s.AvgSlippageBps()
}
