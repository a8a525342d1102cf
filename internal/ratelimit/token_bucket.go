package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket refills capacity tokens per window, capped at capacity. New
// buckets start full.
type tokenBucket struct {
	limiter *rate.Limiter
	refill  float64
}

func newTokenBucket(rule *Rule) *tokenBucket {
	refill := float64(rule.Requests) / rule.Window.Seconds()
	return &tokenBucket{
		limiter: rate.NewLimiter(rate.Limit(refill), rule.Requests),
		refill:  refill,
	}
}

func (s *tokenBucket) check(rule *Rule, now time.Time) *Result {
	allowed := s.limiter.AllowN(now, 1)
	tokens := s.limiter.TokensAt(now)

	res := envelope(rule, allowed, int(math.Floor(tokens)))
	res.ResetAfter = s.timeFor(float64(rule.Requests) - tokens)
	if !allowed {
		res.RetryAfter = s.timeFor(1 - tokens)
	}
	res.TokenBucket = &TokenBucketState{Tokens: tokens, RefillRate: s.refill}
	return res
}

// timeFor returns how long the bucket takes to refill n tokens.
func (s *tokenBucket) timeFor(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n / s.refill * float64(time.Second))
}
