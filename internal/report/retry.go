package report

import (
	"math/rand"
	"time"
)

// retryPolicy bounds how render and delivery failures are retried:
// exponential backoff from Base, capped at MaxDelay, with ±Jitter applied
// so repeated failures don't land on exact multiples.
type retryPolicy struct {
	Max      int // additional attempts after the first
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64
}

func (p retryPolicy) withDefaults() retryPolicy {
	if p.Max < 0 {
		p.Max = 0
	}
	if p.Base <= 0 {
		p.Base = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

func (p retryPolicy) delay(retry int, rng *rand.Rand) time.Duration {
	d := p.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > p.MaxDelay {
			break
		}
	}
	d = min(d, p.MaxDelay)
	if p.Jitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
		d = max(d, 0)
		d = min(d, p.MaxDelay)
	}
	return d
}

// retryState is the per-phase attempt counter. next reports whether another
// attempt is allowed and how long to back off before it.
type retryState struct {
	policy  retryPolicy
	rng     *rand.Rand
	attempt int
}

func newRetryState(p retryPolicy, rng *rand.Rand) *retryState {
	return &retryState{policy: p.withDefaults(), rng: rng}
}

func (r *retryState) next() (time.Duration, bool) {
	if r.attempt >= r.policy.Max {
		return 0, false
	}
	r.attempt++
	return r.policy.delay(r.attempt, r.rng), true
}
