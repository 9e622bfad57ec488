package websocket

import (
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig holds exponential backoff parameters for reconnection.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0.2 = up to 20% added
}

// Backoff produces jittered exponential delays between reconnect attempts.
type Backoff struct {
	config  BackoffConfig
	current time.Duration
	mu      sync.Mutex
}

// NewBackoff creates a backoff starting at the initial delay.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		config:  cfg,
		current: cfg.InitialDelay,
	}
}

// Next returns the delay to wait before the next attempt and advances the
// backoff toward the max delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	jitter := rand.Float64() * b.config.Jitter
	delay := time.Duration(float64(b.current) * (1.0 + jitter))

	next := time.Duration(float64(b.current) * b.config.Multiplier)
	if next > b.config.MaxDelay {
		next = b.config.MaxDelay
	}
	b.current = next

	return delay
}

// Reset returns the backoff to the initial delay after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.config.InitialDelay
}
