package gateway

import (
	"context"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/backend"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	ratestats "github.com/vyrodovalexey/trafficgw/internal/ratelimit/stats"
)

// Stats is a point-in-time view of the gateway.
type Stats struct {
	Name           string                      `json:"name"`
	State          string                      `json:"state"`
	Uptime         time.Duration               `json:"uptimeNs"`
	Algorithm      backend.Algorithm           `json:"algorithm"`
	Backends       []backend.ServiceStats      `json:"backends"`
	Requests       RequestStats                `json:"requests"`
	RoutingRules   int                         `json:"routingRules"`
	RateLimitRules int                         `json:"rateLimitRules"`
	TrackedKeys    int                         `json:"trackedKeys"`
	Decisions      map[string]ratestats.Counts `json:"decisions"`
	DecisionsError string                      `json:"decisionsError,omitempty"`
}

// Stats returns backend snapshots, a summary of the recent requests, the
// active rule counts and the rate limit decision counts.
func (g *Gateway) Stats(ctx context.Context) Stats {
	g.mu.RLock()
	name := g.name
	started := g.startTime
	g.mu.RUnlock()

	s := Stats{
		Name:           name,
		State:          g.State().String(),
		Algorithm:      g.lb.Algorithm(),
		Backends:       g.lb.Stats(),
		Requests:       summarize(g.buffer.snapshot()),
		RoutingRules:   g.router.ActiveCount(),
		RateLimitRules: len(g.limiter.ActiveRuleIDs()),
		TrackedKeys:    g.limiter.TrackedKeys(),
	}
	if g.IsRunning() && !started.IsZero() {
		s.Uptime = g.now().Sub(started)
	}

	decisions, err := g.stats.Snapshot(ctx)
	if err != nil {
		s.DecisionsError = err.Error()
		g.logger.Warn("failed to read rate limit decision stats", observability.Error(err))
	}
	s.Decisions = decisions

	return s
}

// RecentRequests returns up to limit of the most recent request records,
// newest first. A limit of zero or less returns every stored record.
func (g *Gateway) RecentRequests(limit int) []RequestMetrics {
	records := g.buffer.snapshot()
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}
