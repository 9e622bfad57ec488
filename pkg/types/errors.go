package types

import (
	"errors"
	"fmt"
	"net/http"
)

// OrderError represents an error that occurred during order placement or execution.
type OrderError struct {
	Code       string // API error code or internal error code
	Message    string // Human-readable error message
	OrderID    string // Order ID if available
	StatusCode int    // HTTP status, when the error came off the wire
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("order %s failed: %s (%s)", e.OrderID, e.Message, e.Code)
	}
	return fmt.Sprintf("order failed: %s (%s)", e.Message, e.Code)
}

// Known Polymarket CLOB API error codes
const (
	ErrInvalidMinTickSize = "INVALID_ORDER_MIN_TICK_SIZE"
	ErrNotEnoughBalance   = "INVALID_ORDER_NOT_ENOUGH_BALANCE"
	ErrFOKNotFilled       = "FOK_ORDER_NOT_FILLED_ERROR"
	ErrMarketNotReady     = "MARKET_NOT_READY"
	ErrUnmatched          = "UNMATCHED"
	ErrUnknownStatus      = "UNKNOWN_STATUS"
)

// IsRateLimited reports whether the error is an HTTP 429 from the exchange.
func IsRateLimited(err error) bool {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsTransient reports whether the error is a retriable network-level failure
// (timeouts, resets, 5xx). Rate limits are classified separately because they
// back off on a longer schedule.
func IsTransient(err error) bool {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.StatusCode >= 500
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
