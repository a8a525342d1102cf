package ratelimit

import "time"

// fixedWindow counts requests in aligned windows of the rule's size. The
// count keeps growing past the limit while the window lasts.
type fixedWindow struct {
	windowID int64
	count    int
}

func (s *fixedWindow) check(rule *Rule, now time.Time) *Result {
	size := rule.Window.Nanoseconds()
	id := now.UnixNano() / size
	if id != s.windowID {
		s.windowID = id
		s.count = 0
	}
	s.count++

	allowed := s.count <= rule.Requests
	reset := time.Unix(0, (id+1)*size).Sub(now)

	res := envelope(rule, allowed, rule.Requests-s.count)
	res.ResetAfter = reset
	if !allowed {
		res.RetryAfter = reset
	}
	res.FixedWindow = &FixedWindowState{WindowID: id, Count: s.count}
	return res
}
