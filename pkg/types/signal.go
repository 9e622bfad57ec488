package types

import (
	"fmt"
	"time"
)

// Side is the direction of a binary-outcome bet.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Index maps a side to its CTF outcome slot (Up = 0, Down = 1).
func (s Side) Index() int {
	if s == SideDown {
		return 1
	}
	return 0
}

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// Signal is a trading signal produced by the external scorer.
// It is immutable once admitted.
type Signal struct {
	Asset       string    `json:"asset"`
	DurationMin int       `json:"duration_min"`
	Side        Side      `json:"side"`
	Score       int       `json:"score"`
	TrueProb    float64   `json:"true_prob"`
	Entry       float64   `json:"entry"`
	Edge        float64   `json:"edge"`
	SizeUSD     float64   `json:"size_usd"`
	TokenID     string    `json:"token_id"`
	ConditionID string    `json:"condition_id"`
	MarketEnd   time.Time `json:"market_end"`
	MinutesLeft float64   `json:"minutes_left"`

	// Execution flags.
	ForceTaker bool    `json:"force_taker,omitempty"`
	UseLimit   bool    `json:"use_limit,omitempty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	Booster    bool    `json:"booster,omitempty"`
	RoundForce bool    `json:"round_force,omitempty"`

	// OracleDisagree is set when the cross-source price oracle disagrees
	// with the scorer's view; the router applies an edge-floor penalty.
	OracleDisagree bool `json:"oracle_disagree,omitempty"`

	Source     string    `json:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate checks that the signal carries everything execution needs.
func (s *Signal) Validate() error {
	if s.Asset == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	if !s.Side.Valid() {
		return fmt.Errorf("invalid side %q", s.Side)
	}
	if s.DurationMin <= 0 {
		return fmt.Errorf("duration must be positive, got %d", s.DurationMin)
	}
	if s.TrueProb <= 0 || s.TrueProb >= 1 {
		return fmt.Errorf("true_prob must be in (0,1), got %f", s.TrueProb)
	}
	if s.SizeUSD <= 0 {
		return fmt.Errorf("size_usd must be positive, got %f", s.SizeUSD)
	}
	if s.TokenID == "" {
		return fmt.Errorf("token_id cannot be empty")
	}
	if s.ConditionID == "" {
		return fmt.Errorf("condition_id cannot be empty")
	}
	if s.MarketEnd.IsZero() {
		return fmt.Errorf("market_end cannot be zero")
	}
	if s.UseLimit && s.LimitPrice <= 0 {
		return fmt.Errorf("limit_price must be positive when use_limit is set")
	}
	return nil
}

// Fingerprint returns the round fingerprint for this signal's market round.
func (s *Signal) Fingerprint() RoundFingerprint {
	return NewRoundFingerprint(s.Asset, s.DurationMin, s.MarketEnd)
}

// RoundKey returns the (round, side) key for this signal.
func (s *Signal) RoundKey() RoundKey {
	return NewRoundKey(s.Fingerprint(), s.Side)
}

// TargetPrice is the price the router steers execution toward: the fixed
// limit price for limit signals, the scorer's entry otherwise.
func (s *Signal) TargetPrice() float64 {
	if s.UseLimit {
		return s.LimitPrice
	}
	return s.Entry
}
