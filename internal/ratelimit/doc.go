// Package ratelimit implements admission control for the gateway.
//
// A Manager holds rate limiting rules. Each rule uses one of four
// disciplines (fixed window, sliding window, token bucket, leaky bucket)
// and a key extractor that maps a request to the key its state is tracked
// under. Per-key state lives in memory, is created on first use and is
// removed only by the periodic sweep once it has been idle for longer than
// the retention horizon.
//
// Example:
//
//	m := ratelimit.NewManager(ratelimit.WithManagerLogger(logger))
//	_ = m.AddRule(ratelimit.Rule{
//		ID:        "per-ip",
//		Algorithm: ratelimit.AlgorithmFixedWindow,
//		Requests:  100,
//		Window:    time.Minute,
//		Enabled:   true,
//	})
//	res := m.CheckRateLimit("per-ip", m.ExtractKey("per-ip", d), time.Now())
package ratelimit
