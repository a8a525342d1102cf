package ratelimit

import "time"

// keyState is the per-key state of one discipline.
type keyState interface {
	check(rule *Rule, now time.Time) *Result
}

// newKeyState creates empty state for the rule's discipline.
func newKeyState(rule *Rule) keyState {
	switch rule.Algorithm {
	case AlgorithmSlidingWindow:
		return &slidingWindow{}
	case AlgorithmTokenBucket:
		return newTokenBucket(rule)
	case AlgorithmLeakyBucket:
		return &leakyBucket{}
	default:
		return &fixedWindow{windowID: -1}
	}
}

// envelope fills the fields shared by every discipline.
func envelope(rule *Rule, allowed bool, remaining int) *Result {
	return &Result{
		Allowed:   allowed,
		Algorithm: rule.Algorithm,
		RuleID:    rule.ID,
		Limit:     rule.Requests,
		Remaining: max(0, remaining),
	}
}
