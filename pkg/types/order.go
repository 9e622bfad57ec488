package types

// OrderStatus is the explicit result variant of an order submission.
// A FOK order that was not instantly matched is Killed, not an error.
type OrderStatus string

const (
	OrderMatched OrderStatus = "matched"
	OrderLive    OrderStatus = "live"
	OrderKilled  OrderStatus = "killed"
	OrderDelayed OrderStatus = "delayed"
)

// OrderAck is the exchange's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID    string
	Status     OrderStatus
	Price      float64
	FilledSize float64 // shares matched at submission time
}

// OrderState is the polled state of a resting order.
type OrderState struct {
	OrderID      string
	Status       string // "LIVE", "MATCHED", "CANCELED"
	Price        float64
	OriginalSize float64
	SizeMatched  float64 // shares
}

// FullyMatched reports whether the order filled completely.
func (s *OrderState) FullyMatched() bool {
	return s.OriginalSize > 0 && s.SizeMatched >= s.OriginalSize
}
