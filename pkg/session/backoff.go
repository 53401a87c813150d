package session

import (
	"sync"
	"time"
)

const (
	backoffFloor   = 1 * time.Second
	backoffCeiling = 60 * time.Second
)

// Backoff records the reconnect delay for the device link. It keeps no
// timers of its own; the surrounding accept loop honors Current before
// re-listening.
type Backoff struct {
	mu      sync.Mutex
	current time.Duration
}

// NewBackoff starts at the one-second floor.
func NewBackoff() *Backoff {
	return &Backoff{current: backoffFloor}
}

// Current returns the delay to honor before the next attempt.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Advance doubles the delay, capped at the sixty-second ceiling.
func (b *Backoff) Advance() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current *= 2
	if b.current > backoffCeiling {
		b.current = backoffCeiling
	}
	return b.current
}

// Reset drops the delay back to the floor after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = backoffFloor
	b.mu.Unlock()
}
