package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// OrderbookMessage represents a message from the Polymarket market WebSocket.
type OrderbookMessage struct {
	EventType string       `json:"event_type"` // "book", "price_change", "last_trade_price"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp int64        `json:"-"` // Parsed from string via UnmarshalJSON
	Hash      string       `json:"hash,omitempty"`
	Bids      []PriceLevel `json:"bids,omitempty"`
	Asks      []PriceLevel `json:"asks,omitempty"`
}

// UnmarshalJSON custom unmarshaler to handle string timestamp.
func (o *OrderbookMessage) UnmarshalJSON(data []byte) error {
	type Alias OrderbookMessage
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(o),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimestampStr != "" {
		timestamp, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return err
		}
		o.Timestamp = timestamp
	}

	return nil
}

// PriceLevel represents a single price level on the wire (string encoded).
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookLevel is a parsed price level.
type BookLevel struct {
	Price float64
	Size  float64 // shares
}

// BookSnapshot is the order book state the router prices against. It is
// owned transiently per routing attempt: never mutated, only replaced.
type BookSnapshot struct {
	TokenID    string
	BestBid    float64
	BestAsk    float64
	TickSize   float64
	Asks       []BookLevel // ascending by price
	CapturedAt time.Time
}

// Mid returns the book midpoint.
func (b *BookSnapshot) Mid() float64 {
	return (b.BestBid + b.BestAsk) / 2
}

// Spread returns best ask minus best bid.
func (b *BookSnapshot) Spread() float64 {
	return b.BestAsk - b.BestBid
}

// Age returns how stale the snapshot is.
func (b *BookSnapshot) Age() time.Duration {
	return time.Since(b.CapturedAt)
}

// AskDepthUSD sums executable ask-side notional at or below the cap price.
func (b *BookSnapshot) AskDepthUSD(capPrice float64) float64 {
	var depth float64
	for _, lvl := range b.Asks {
		if lvl.Price > capPrice {
			break
		}
		depth += lvl.Price * lvl.Size
	}
	return depth
}

// ProjectedFill walks the ask side and returns the volume-weighted fill price
// for buying amountUSD within capPrice, along with the notional actually
// coverable. coveredUSD < amountUSD means the book is too thin at the cap.
func (b *BookSnapshot) ProjectedFill(amountUSD, capPrice float64) (vwap, coveredUSD float64) {
	remaining := amountUSD
	var costUSD, shares float64
	for _, lvl := range b.Asks {
		if lvl.Price > capPrice || remaining <= 0 {
			break
		}
		levelUSD := lvl.Price * lvl.Size
		take := levelUSD
		if take > remaining {
			take = remaining
		}
		costUSD += take
		shares += take / lvl.Price
		remaining -= take
	}
	if shares == 0 {
		return 0, 0
	}
	return costUSD / shares, costUSD
}
