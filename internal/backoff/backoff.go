// Package backoff implements the register-client reconnect policy of §5:
// exponential backoff, initial 500ms, factor 2, capped at 30s, ±25% jitter.
package backoff

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

const (
	initial = 500 * time.Millisecond
	factor  = 2
	max     = 30 * time.Second
	jitter  = 0.25
)

// Backoff tracks reconnect delay state across repeated failures.
type Backoff struct {
	attempt int
}

// New creates a Backoff at its initial state.
func New() *Backoff {
	return &Backoff{}
}

// Next returns the delay to wait before the next reconnect attempt and
// advances the internal attempt counter. The base delay doubles each call
// up to max, then a uniform ±25% jitter is applied.
func (b *Backoff) Next() time.Duration {
	base := initial
	for i := 0; i < b.attempt; i++ {
		base *= factor
		if base >= max {
			base = max
			break
		}
	}
	b.attempt++

	j := jitterFactor()
	d := time.Duration(float64(base) * (1 + jitter*j))
	if d < 0 {
		d = 0
	}
	return d
}

// Reset returns the backoff to its initial state, called after a
// successful reconnect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// jitterFactor returns a uniform random value in [-1, 1).
func jitterFactor() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	u := binary.BigEndian.Uint64(buf[:])
	// Map to [0, 1) then to [-1, 1).
	f := float64(u>>11) / float64(1<<53)
	return 2*f - 1
}
