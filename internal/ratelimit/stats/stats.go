// Package stats mirrors rate limit decisions into a statistics sink for
// dashboards. Sinks never take part in an admission decision.
package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// Sink types.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// Counts is the number of decisions recorded for one rule.
type Counts struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Sink records rate limit decisions.
type Sink interface {
	// Record counts one decision for the rule. It never fails; sinks that
	// can fail handle the failure themselves.
	Record(ctx context.Context, ruleID string, allowed bool)

	// Snapshot returns the counts per rule.
	Snapshot(ctx context.Context) (map[string]Counts, error)

	// Close releases the sink's resources.
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	Type     string
	Address  string
	Password string
	DB       int
	Prefix   string
}

// New creates the sink described by cfg. A Redis sink that cannot reach its
// server at startup is replaced by a memory sink.
func New(ctx context.Context, cfg Config, logger observability.Logger) (Sink, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case "", TypeMemory:
		return NewMemorySink(), nil
	case TypeRedis:
		sink, err := NewRedisSink(ctx, RedisConfig{
			Address:  cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
		}, WithSinkLogger(logger))
		if err != nil {
			logger.Warn("redis stats sink unavailable, using memory",
				observability.String("address", cfg.Address),
				observability.Error(err),
			)
			return NewMemorySink(), nil
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown stats sink type %q", cfg.Type)
	}
}

// MemorySink keeps counts in process memory.
type MemorySink struct {
	mu     sync.Mutex
	counts map[string]*Counts
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{counts: make(map[string]*Counts)}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, ruleID string, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counts[ruleID]
	if !ok {
		c = &Counts{}
		s.counts[ruleID] = c
	}
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
}

// Snapshot implements Sink.
func (s *MemorySink) Snapshot(_ context.Context) (map[string]Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Counts, len(s.counts))
	for id, c := range s.counts {
		out[id] = *c
	}
	return out, nil
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	return nil
}

// RuleIDs returns the rule IDs of a snapshot in sorted order.
func RuleIDs(snapshot map[string]Counts) []string {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
