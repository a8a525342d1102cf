package ratelimit

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/ratelimit/store"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Sweep default configuration constants.
const (
	// DefaultSweepInterval is the default period of the eviction sweep.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultRetention is the default idle time after which per-key state
	// is evicted.
	DefaultRetention = 10 * time.Minute
)

// registeredRule is a rule plus its compiled key extractor.
type registeredRule struct {
	Rule
	extractor *KeyExtractor
	seq       int
}

// limitState is the stored per-key state of one rule.
type limitState struct {
	window time.Duration
	state  keyState
}

// Manager owns the rate limiting rules and their per-key state. Every check
// is serialized by one mutex.
type Manager struct {
	mu      sync.Mutex
	rules   map[string]*registeredRule
	seq     int
	entries *store.MemoryStore[*limitState]

	sweepInterval time.Duration
	retention     time.Duration
	logger        observability.Logger
	metrics       *observability.Metrics
	now           func() time.Time

	loopMu    sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// ManagerOption is a functional option for configuring the manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerMetrics sets the metrics for the manager.
func WithManagerMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithSweepInterval sets the period of the eviction sweep.
func WithSweepInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.sweepInterval = interval
		}
	}
}

// WithRetention sets the idle time after which per-key state is evicted.
func WithRetention(retention time.Duration) ManagerOption {
	return func(m *Manager) {
		if retention > 0 {
			m.retention = retention
		}
	}
}

// NewManager creates a manager with no rules.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		rules:         make(map[string]*registeredRule),
		entries:       store.NewMemoryStore[*limitState](),
		sweepInterval: DefaultSweepInterval,
		retention:     DefaultRetention,
		logger:        observability.NopLogger(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AddRule validates and registers a rule, replacing any rule with the same
// ID. Per-key state is kept when the replacement has the same algorithm,
// capacity and window.
func (m *Manager) AddRule(rule Rule) error {
	source, err := ParseKeySource(string(rule.KeyExtractor))
	if err != nil {
		return util.NewConfigErrorWithCause("keyExtractor", "invalid key extractor", err)
	}
	rule.KeyExtractor = source

	if err := rule.Validate(); err != nil {
		return err
	}

	extractor, err := NewKeyExtractor(rule.KeyExtractor, rule.KeyExpression, m.logger)
	if err != nil {
		return util.NewConfigErrorWithCause("keyExpression", "invalid key expression", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg := &registeredRule{Rule: rule, extractor: extractor}
	if existing, ok := m.rules[rule.ID]; ok {
		reg.seq = existing.seq
		if !existing.sameLimits(&rule) {
			m.entries.DeletePrefix(store.Key(rule.ID, ""))
		}
	} else {
		m.seq++
		reg.seq = m.seq
	}
	m.rules[rule.ID] = reg

	m.logger.Debug("rate limit rule added",
		observability.String("rule", rule.ID),
		observability.String("algorithm", string(rule.Algorithm)),
		observability.Int("requests", rule.Requests),
		observability.Duration("window", rule.Window),
	)
	return nil
}

// RemoveRule removes a rule and its per-key state. It reports whether the
// rule existed.
func (m *Manager) RemoveRule(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return false
	}
	delete(m.rules, id)
	dropped := m.entries.DeletePrefix(store.Key(id, ""))

	m.logger.Debug("rate limit rule removed",
		observability.String("rule", id),
		observability.Int("keys", dropped),
	)
	return true
}

// SetEnabled enables or disables a rule.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return util.WrapError(util.ErrNotFound, "rate limit rule "+id)
	}
	r.Enabled = enabled
	return nil
}

// SetPriority changes the priority of a rule.
func (m *Manager) SetPriority(id string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return util.WrapError(util.ErrNotFound, "rate limit rule "+id)
	}
	r.Priority = priority
	return nil
}

// Rule returns a copy of the rule with the given ID.
func (m *Manager) Rule(id string) (Rule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return Rule{}, false
	}
	return r.Rule, true
}

// Rules returns every rule ordered by priority, highest first. Rules with
// equal priority keep registration order.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := m.sortedLocked()
	out := make([]Rule, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, r.Rule)
	}
	return out
}

// ActiveRuleIDs returns the IDs of enabled rules in the order of Rules.
func (m *Manager) ActiveRuleIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, r := range m.sortedLocked() {
		if r.Enabled {
			out = append(out, r.ID)
		}
	}
	return out
}

func (m *Manager) sortedLocked() []*registeredRule {
	out := make([]*registeredRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// ExtractKey returns the key of d under the rule's key extractor. Unknown
// rules key by client address.
func (m *Manager) ExtractKey(ruleID string, d Descriptor) string {
	m.mu.Lock()
	r, ok := m.rules[ruleID]
	m.mu.Unlock()

	if !ok {
		return ClientIP(d)
	}
	return r.extractor.Extract(d)
}

// CheckRateLimit decides whether one request with key is admitted under
// the rule. A missing or disabled rule always admits.
func (m *Manager) CheckRateLimit(ruleID, key string, now time.Time) *Result {
	res, algorithm := m.check(ruleID, key, now)
	res.Key = key
	if algorithm == "" {
		return res
	}

	m.metrics.RecordRateLimitDecision(ruleID, string(algorithm), res.Allowed)
	if !res.Allowed {
		m.logger.Debug("rate limit exceeded",
			observability.String("rule", ruleID),
			observability.String("key", key),
			observability.Duration("retry_after", res.RetryAfter),
		)
	}
	return res
}

func (m *Manager) check(ruleID, key string, now time.Time) (*Result, Algorithm) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[ruleID]
	if !ok || !r.Enabled {
		return allowAll(ruleID, key), ""
	}

	entry := m.entries.GetOrCreate(store.Key(ruleID, key), now, func() *limitState {
		return &limitState{window: r.Window, state: newKeyState(&r.Rule)}
	})
	return entry.state.check(&r.Rule, now), r.Algorithm
}

// Sweep evicts per-key state idle for longer than max(retention, window of
// its rule) and returns the number of evicted keys.
func (m *Manager) Sweep(now time.Time) int {
	evicted, remaining := m.evictIdle(now)

	if evicted > 0 {
		m.metrics.RecordRateLimitEvictions(evicted)
		m.logger.Debug("rate limit state swept",
			observability.Int("evicted", evicted),
			observability.Int("remaining", remaining),
		)
	}
	return evicted
}

func (m *Manager) evictIdle(now time.Time) (evicted, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted = m.entries.EvictIdle(now, m.retention, func(_ string, e *limitState) time.Duration {
		return max(m.retention, e.window)
	})
	return evicted, m.entries.Len()
}

// TrackedKeys returns the number of keys with stored state.
func (m *Manager) TrackedKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

// Start starts the sweep loop. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	go m.run(ctx, m.stopCh, m.stoppedCh)
}

// Stop stops the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	m.loopMu.Lock()
	if !m.running {
		m.loopMu.Unlock()
		return
	}
	m.running = false
	stopCh, stoppedCh := m.stopCh, m.stoppedCh
	m.loopMu.Unlock()

	close(stopCh)
	<-stoppedCh
}

func (m *Manager) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce runs one sweep, recovering from panics so the loop survives.
func (m *Manager) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in rate limit sweep",
				observability.Any("panic", r),
				observability.String("stack", string(debug.Stack())),
			)
		}
	}()
	m.Sweep(m.now())
}
