package stream

import (
	"errors"
	"time"
)

// ErrRetriesExhausted is returned by Run when MaxAttempts consecutive
// connection attempts have failed.
var ErrRetriesExhausted = errors.New("stream: retries exhausted")

// RetryPolicy sets the wait between reconnects. The default policy waits a
// fixed 5s and never gives up.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int // 0 = unlimited
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 5 * time.Second, Max: 5 * time.Second, Multiplier: 1}
}

// Delay returns the wait before reconnect number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Initial
	if d <= 0 {
		d = 5 * time.Second
	}
	for i := 1; i < attempt && p.Multiplier > 1; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether attempt has reached MaxAttempts.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
