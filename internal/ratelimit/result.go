package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Result is the outcome of one rate limit check. Exactly one of the
// discipline fields is set when the check ran against a rule; none is set
// when the rule was missing or disabled.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Algorithm  Algorithm     `json:"algorithm,omitempty"`
	RuleID     string        `json:"ruleId"`
	Key        string        `json:"key,omitempty"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAfter time.Duration `json:"resetAfterNs"`
	RetryAfter time.Duration `json:"retryAfterNs"`

	FixedWindow   *FixedWindowState   `json:"fixedWindow,omitempty"`
	SlidingWindow *SlidingWindowState `json:"slidingWindow,omitempty"`
	TokenBucket   *TokenBucketState   `json:"tokenBucket,omitempty"`
	LeakyBucket   *LeakyBucketState   `json:"leakyBucket,omitempty"`
}

// FixedWindowState describes the current fixed window.
type FixedWindowState struct {
	WindowID int64 `json:"windowId"`
	Count    int   `json:"count"`
}

// SlidingWindowState describes the trailing window.
type SlidingWindowState struct {
	Occupancy int       `json:"occupancy"`
	Oldest    time.Time `json:"oldest"`
}

// TokenBucketState describes the bucket after the check.
type TokenBucketState struct {
	Tokens     float64 `json:"tokens"`
	RefillRate float64 `json:"refillRate"`
}

// LeakyBucketState describes the queue after the check.
type LeakyBucketState struct {
	QueueLength int     `json:"queueLength"`
	LeakRate    float64 `json:"leakRate"`
}

// allowAll is the result for a missing or disabled rule.
func allowAll(ruleID, key string) *Result {
	return &Result{Allowed: true, RuleID: ruleID, Key: key}
}

// Headers returns the rate limit response headers for the result.
func (r *Result) Headers() http.Header {
	h := make(http.Header)
	if r == nil || r.Algorithm == "" {
		return h
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, r.Remaining)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(r.ResetAfter), 10))
	if !r.Allowed {
		h.Set("Retry-After", strconv.FormatInt(max(1, ceilSeconds(r.RetryAfter)), 10))
	}
	return h
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
