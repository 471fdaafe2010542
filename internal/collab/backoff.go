package collab

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Backoff adapts NextBackoffDelay to backoff.BackOff.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

var _ backoff.BackOff = (*Backoff)(nil)

func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	return &Backoff{cfg: cfg, rng: rng}
}

func (b *Backoff) NextBackOff() time.Duration {
	b.attempt++
	return NextBackoffDelay(b.cfg, b.attempt, b.rng)
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	return b.attempt
}

// newRetryPolicy returns the attempt counter and the policy the session
// consults, which bounds it by maxAttempts when positive.
func newRetryPolicy(cfg BackoffConfig, maxAttempts int, rng *rand.Rand) (*Backoff, backoff.BackOff) {
	b := NewBackoff(cfg, rng)
	if maxAttempts > 0 {
		return b, backoff.WithMaxRetries(b, uint64(maxAttempts))
	}
	return b, b
}
