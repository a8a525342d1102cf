package ratelimit

import (
	"slices"
	"time"
)

// slidingWindow keeps the admission time of every request in the trailing
// window. A request admitted at t stops counting at exactly t+window.
type slidingWindow struct {
	timestamps []time.Time
}

func (s *slidingWindow) check(rule *Rule, now time.Time) *Result {
	s.timestamps = evictUpTo(s.timestamps, now.Add(-rule.Window))

	allowed := len(s.timestamps) < rule.Requests
	if allowed {
		s.timestamps = append(s.timestamps, now)
	}

	oldest := s.timestamps[0]
	res := envelope(rule, allowed, rule.Requests-len(s.timestamps))
	res.ResetAfter = oldest.Add(rule.Window).Sub(now)
	if !allowed {
		res.RetryAfter = res.ResetAfter
	}
	res.SlidingWindow = &SlidingWindowState{Occupancy: len(s.timestamps), Oldest: oldest}
	return res
}

// evictUpTo drops the leading timestamps that are at or before cutoff.
func evictUpTo(ts []time.Time, cutoff time.Time) []time.Time {
	n := 0
	for n < len(ts) && !ts[n].After(cutoff) {
		n++
	}
	if n == 0 {
		return ts
	}
	return slices.Delete(ts, 0, n)
}
