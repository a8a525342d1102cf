package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Algorithm names a rate limiting discipline.
type Algorithm string

// Rate limiting disciplines.
const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmLeakyBucket   Algorithm = "leaky_bucket"
)

// ParseAlgorithm validates a discipline name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket, AlgorithmLeakyBucket:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rate limit algorithm %q", name)
	}
}

// Rule is a rate limiting rule. Only Enabled and Priority change after the
// rule is added.
type Rule struct {
	ID            string        `json:"id"`
	Algorithm     Algorithm     `json:"algorithm"`
	Requests      int           `json:"requests"`
	Window        time.Duration `json:"windowNs"`
	KeyExtractor  KeySource     `json:"keyExtractor"`
	KeyExpression string        `json:"keyExpression,omitempty"`
	Enabled       bool          `json:"enabled"`
	Priority      int           `json:"priority"`
}

// Validate checks the rule fields.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return util.NewConfigError("id", "rule id cannot be empty")
	}
	if strings.Contains(r.ID, ":") {
		return util.NewConfigError("id", "rule id cannot contain ':'")
	}
	if _, err := ParseAlgorithm(string(r.Algorithm)); err != nil {
		return util.NewConfigErrorWithCause("algorithm", "invalid algorithm", err)
	}
	if r.Requests <= 0 {
		return util.NewConfigError("requests", "must be positive")
	}
	if r.Window <= 0 {
		return util.NewConfigError("window", "must be positive")
	}
	if r.Algorithm == AlgorithmLeakyBucket && r.Window < time.Duration(r.Requests) {
		return util.NewConfigError("window", "leaky bucket window must be at least one nanosecond per request")
	}
	if _, err := ParseKeySource(string(r.KeyExtractor)); err != nil {
		return util.NewConfigErrorWithCause("keyExtractor", "invalid key extractor", err)
	}
	if r.KeyExtractor == KeySourceCustom && r.KeyExpression == "" {
		return util.NewConfigError("keyExpression", "required for custom key extractor")
	}
	return nil
}

// sameLimits reports whether two rules produce the same per-key state.
func (r *Rule) sameLimits(o *Rule) bool {
	return r.Algorithm == o.Algorithm && r.Requests == o.Requests && r.Window == o.Window
}
