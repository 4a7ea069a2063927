package mandate

import "time"

// Token-bucket refill constants from the design: tau scales the
// nominal rate up slightly to absorb scheduling jitter, kappa bounds
// how much the bucket may burst above its instantaneous rate.
const (
	tau   = 1.1
	kappa = 2.0
)

// tokenBucket gates packet admission against a per-flow throughput
// mandate. Tokens are denominated in bytes.
type tokenBucket struct {
	tokens    float64
	maxTokens float64
	lastFill  time.Time
}

func newTokenBucket(minThroughputBps float64, now time.Time) *tokenBucket {
	maxTokens := kappa * (minThroughputBps / 8)
	return &tokenBucket{tokens: maxTokens, maxTokens: maxTokens, lastFill: now}
}

// refill advances the bucket to now given the current min-throughput
// rate (bits/sec), which may have changed since the last refill.
func (b *tokenBucket) refill(minThroughputBps float64, now time.Time) {
	dt := now.Sub(b.lastFill).Seconds()
	if dt < 0 {
		dt = 0
	}
	b.maxTokens = kappa * (minThroughputBps / 8)
	b.tokens += tau * dt * (minThroughputBps / 8)
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastFill = now
}

// spend deducts cost bytes, floored at zero (T2: tokens in [0, maxTokens]).
func (b *tokenBucket) spend(cost float64) {
	b.tokens -= cost
	if b.tokens < 0 {
		b.tokens = 0
	}
}

// hasTokens reports whether the bucket currently permits a non-bonus pop.
func (b *tokenBucket) hasTokens() bool {
	return b.tokens > 0
}
