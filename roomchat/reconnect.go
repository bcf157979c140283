package roomchat

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectPolicy hands out exponential delays for a bounded number of
// attempts. Not safe for concurrent use; the Manager guards it with its mutex.
type reconnectPolicy struct {
	maxAttempts int // <= 0 means unlimited
	backoff     *backoff.ExponentialBackOff
	attempts    int
	reported    bool
}

func newReconnectPolicy(cfg Config) *reconnectPolicy {
	initial := cfg.ReconnectInterval
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = backoff.DefaultMaxInterval
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return &reconnectPolicy{maxAttempts: cfg.MaxReconnectAttempts, backoff: b}
}

// next returns the delay before the next attempt, or false once the
// attempt budget is spent.
func (p *reconnectPolicy) next() (time.Duration, bool) {
	if p.maxAttempts > 0 && p.attempts >= p.maxAttempts {
		return 0, false
	}
	p.attempts++
	return p.backoff.NextBackOff(), true
}

// exhaust reports true exactly once after the budget is spent.
func (p *reconnectPolicy) exhaust() bool {
	if p.reported {
		return false
	}
	p.reported = true
	return true
}

func (p *reconnectPolicy) reset() {
	p.attempts = 0
	p.reported = false
	p.backoff.Reset()
}
