package ratelimit

import "time"

// leakyBucket is a queue of capacity slots that leaks one entry every
// window/capacity. An entry leaves the queue once it has been queued for
// that long.
type leakyBucket struct {
	queue []time.Time
}

func (s *leakyBucket) check(rule *Rule, now time.Time) *Result {
	drain := max(rule.Window/time.Duration(rule.Requests), time.Nanosecond)
	s.queue = evictUpTo(s.queue, now.Add(-drain))

	allowed := len(s.queue) < rule.Requests
	if allowed {
		s.queue = append(s.queue, now)
	}

	res := envelope(rule, allowed, rule.Requests-len(s.queue))
	res.ResetAfter = s.queue[len(s.queue)-1].Add(drain).Sub(now)
	if !allowed {
		res.RetryAfter = s.queue[0].Add(drain).Sub(now)
	}
	res.LeakyBucket = &LeakyBucketState{
		QueueLength: len(s.queue),
		LeakRate:    float64(rule.Requests) / rule.Window.Seconds(),
	}
	return res
}
