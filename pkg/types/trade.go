package types

import (
	"fmt"
	"math"
	"time"
)

// ExecMode tells how a fill was obtained.
type ExecMode string

const (
	ModeMaker        ExecMode = "maker"
	ModeFOK          ExecMode = "fok"
	ModeFOKFallback  ExecMode = "fok_fallback"
	ModeMakerPartial ExecMode = "maker_partial"
)

// ExecutionResult is produced once per successful router invocation.
type ExecutionResult struct {
	OrderID   string
	FillPrice float64
	Mode      ExecMode
	FilledUSD float64
}

// PendingTrade is an open position awaiting settlement. It is created on a
// confirmed fill and owned by the ledger until the reconciler closes it.
type PendingTrade struct {
	ConditionID string           `json:"condition_id"`
	TokenID     string           `json:"token_id"`
	Asset       string           `json:"asset"`
	DurationMin int              `json:"duration_min"`
	Side        Side             `json:"side"`
	RoundKey    RoundKey         `json:"round_key"`
	Fingerprint RoundFingerprint `json:"fingerprint"`

	NotionalUSD float64  `json:"notional_usd"`
	EntryPrice  float64  `json:"entry_price"` // authoritative first-fill price
	FillPrice   float64  `json:"fill_price"`
	SlippageBps float64  `json:"slippage_bps"`
	OrderID     string   `json:"order_id"`
	Mode        ExecMode `json:"mode"`
	Score       int      `json:"score"`
	Edge        float64  `json:"edge"`

	// CoreEntryLocked guards the first fill's price: booster add-ons never
	// average into EntryPrice.
	CoreEntryLocked bool    `json:"core_entry_locked"`
	BoosterCount    int     `json:"booster_count"`
	BoosterStakeUSD float64 `json:"booster_stake_usd"`

	OpenedAt time.Time `json:"opened_at"`
}

// TotalStakeUSD is core notional plus booster add-ons.
func (t *PendingTrade) TotalStakeUSD() float64 {
	return t.NotionalUSD + t.BoosterStakeUSD
}

// Result is the settled outcome of a closed position.
type Result string

const (
	ResultWin  Result = "WIN"
	ResultLoss Result = "LOSS"
)

// Settlement classifications: how a winning position was converted to USDC.
const (
	ClassWalletRedeem = "wallet_redeem" // we submitted the redeem tx
	ClassAutoRedeemed = "auto_redeemed" // exchange redeemed on our behalf
	ClassZeroBalance  = "zero_balance"  // winning token balance already zero
)

// SettledOutcome is write-once per condition id; it is the idempotency
// anchor for settlement across restarts.
type SettledOutcome struct {
	ConditionID    string    `json:"condition_id"`
	RoundKey       RoundKey  `json:"round_key"`
	Result         Result    `json:"result"`
	WinnerSide     Side      `json:"winner_side"`
	PnLUSD         float64   `json:"pnl_usd"`
	RedeemTx       string    `json:"redeem_tx,omitempty"`
	Classification string    `json:"classification,omitempty"`
	SettledAt      time.Time `json:"settled_at"`
}

// BucketKey groups fills and outcomes by (duration, score tier, entry band).
type BucketKey struct {
	DurationMin int    `json:"duration_min"`
	ScoreTier   string `json:"score_tier"`
	EntryBand   string `json:"entry_band"`
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%dm|%s|%s", k.DurationMin, k.ScoreTier, k.EntryBand)
}

// BucketFor buckets a fill. Score tiers: high >= 9, mid >= 7, low otherwise.
// Entry bands are 0.05-wide price bands.
func BucketFor(durationMin, score int, entry float64) BucketKey {
	tier := "low"
	switch {
	case score >= 9:
		tier = "high"
	case score >= 7:
		tier = "mid"
	}
	lo := math.Floor(entry*20) / 20
	band := fmt.Sprintf("%.2f-%.2f", lo, lo+0.05)
	return BucketKey{DurationMin: durationMin, ScoreTier: tier, EntryBand: band}
}

// BucketStat aggregates fills and outcomes for one bucket. Written by the
// reconciler, read by the router for adaptive payout/EV floors.
type BucketStat struct {
	Key            BucketKey `json:"key"`
	Fills          int       `json:"fills"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	SlippageBpsSum float64   `json:"slippage_bps_sum"`
	StakedUSD      float64   `json:"staked_usd"`
	PnLUSD         float64   `json:"pnl_usd"`
}

// WinRate returns wins over settled outcomes, or 0 with no samples.
func (b *BucketStat) WinRate() float64 {
	settled := b.Wins + b.Losses
	if settled == 0 {
		return 0
	}
	return float64(b.Wins) / float64(settled)
}

// AvgSlippageBps returns average realized slippage per fill.
func (b *BucketStat) AvgSlippageBps() float64 {
	if b.Fills == 0 {
		return 0
	}
	return b.SlippageBpsSum / float64(b.Fills)
}

// Settled returns how many outcomes the bucket has observed.
func (b *BucketStat) Settled() int {
	return b.Wins + b.Losses
}
