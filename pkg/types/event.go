package types

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies ledger event-log records.
type EventKind string

const (
	EventAdmitted          EventKind = "admitted"
	EventAdmissionRejected EventKind = "admission_rejected"
	EventOrderIntent       EventKind = "order_intent"
	EventFill              EventKind = "fill"
	EventNoFill            EventKind = "no_fill"
	EventBooster           EventKind = "booster"
	EventSettlement        EventKind = "settlement"
)

// Event is one record of the append-only event log. It carries enough fields
// to reconstruct outcome attribution offline.
type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	At          time.Time `json:"at"`
	ConditionID string    `json:"condition_id,omitempty"`
	RoundKey    RoundKey  `json:"round_key,omitempty"`
	Side        Side      `json:"side,omitempty"`
	Score       int       `json:"score,omitempty"`
	Edge        float64   `json:"edge,omitempty"`
	SlippageBps float64   `json:"slippage_bps,omitempty"`
	PriceUSD    float64   `json:"price_usd,omitempty"`
	SizeUSD     float64   `json:"size_usd,omitempty"`
	PnLUSD      float64   `json:"pnl_usd,omitempty"`
	Mode        ExecMode  `json:"mode,omitempty"`
	Result      Result    `json:"result,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(kind EventKind) *Event {
	return &Event{
		ID:   uuid.New().String(),
		Kind: kind,
		At:   time.Now().UTC(),
	}
}
