package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// base is aligned to a minute boundary so fixed windows start at base.
var base = time.Unix(1_700_000_040, 0)

func newRule(id string, alg Algorithm, requests int, window time.Duration) Rule {
	return Rule{
		ID:        id,
		Algorithm: alg,
		Requests:  requests,
		Window:    window,
		Enabled:   true,
	}
}

func newManagerWith(t *testing.T, rules ...Rule) *Manager {
	t.Helper()
	m := NewManager()
	for _, r := range rules {
		require.NoError(t, m.AddRule(r))
	}
	return m
}

// ============================================================================
// Test Cases for Manager - Capacity per discipline
// ============================================================================

func TestManager_CapacityPerDiscipline(t *testing.T) {
	t.Parallel()

	algorithms := []Algorithm{
		AlgorithmFixedWindow,
		AlgorithmSlidingWindow,
		AlgorithmTokenBucket,
		AlgorithmLeakyBucket,
	}

	for _, alg := range algorithms {
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()

			m := newManagerWith(t, newRule("r", alg, 5, time.Minute))

			for i := range 5 {
				res := m.CheckRateLimit("r", "client", base)
				require.True(t, res.Allowed, "request %d should be allowed", i+1)
				assert.Equal(t, 5, res.Limit)
				assert.Equal(t, alg, res.Algorithm)
			}

			res := m.CheckRateLimit("r", "client", base)
			assert.False(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
			assert.Positive(t, res.RetryAfter)
		})
	}
}

func TestManager_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmFixedWindow, 1, time.Minute))

	assert.True(t, m.CheckRateLimit("r", "a", base).Allowed)
	assert.False(t, m.CheckRateLimit("r", "a", base).Allowed)
	assert.True(t, m.CheckRateLimit("r", "b", base).Allowed)
}

// ============================================================================
// Test Cases for Manager - Fixed window
// ============================================================================

func TestManager_FixedWindowScenario(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmFixedWindow, 3, 60*time.Second))

	for _, want := range []int{2, 1, 0} {
		res := m.CheckRateLimit("r", "k", base)
		require.True(t, res.Allowed)
		assert.Equal(t, want, res.Remaining)
		require.NotNil(t, res.FixedWindow)
	}

	res := m.CheckRateLimit("r", "k", base.Add(10*time.Second))
	assert.False(t, res.Allowed)
	assert.Equal(t, 50*time.Second, res.RetryAfter)
	assert.Equal(t, 4, res.FixedWindow.Count)

	res = m.CheckRateLimit("r", "k", base.Add(61*time.Second))
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 1, res.FixedWindow.Count)
}

func TestManager_FixedWindowEdgeBurst(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmFixedWindow, 2, time.Minute))
	end := base.Add(time.Minute - time.Millisecond)

	assert.True(t, m.CheckRateLimit("r", "k", end).Allowed)
	assert.True(t, m.CheckRateLimit("r", "k", end).Allowed)
	assert.True(t, m.CheckRateLimit("r", "k", base.Add(time.Minute)).Allowed)
	assert.True(t, m.CheckRateLimit("r", "k", base.Add(time.Minute)).Allowed)
}

// ============================================================================
// Test Cases for Manager - Sliding window
// ============================================================================

func TestManager_SlidingWindowExpiry(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmSlidingWindow, 1, 10*time.Second))

	res := m.CheckRateLimit("r", "k", base)
	require.True(t, res.Allowed)
	require.NotNil(t, res.SlidingWindow)
	assert.Equal(t, 1, res.SlidingWindow.Occupancy)

	res = m.CheckRateLimit("r", "k", base.Add(10*time.Second-time.Nanosecond))
	assert.False(t, res.Allowed, "request still counts just before window end")
	assert.Equal(t, time.Nanosecond, res.RetryAfter)

	res = m.CheckRateLimit("r", "k", base.Add(10*time.Second))
	assert.True(t, res.Allowed, "request is forgotten exactly at window end")
	assert.Equal(t, base.Add(10*time.Second), res.SlidingWindow.Oldest)
}

// ============================================================================
// Test Cases for Manager - Token bucket
// ============================================================================

func TestManager_TokenBucketRefill(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmTokenBucket, 4, 4*time.Second))

	for range 4 {
		require.True(t, m.CheckRateLimit("r", "k", base).Allowed)
	}

	res := m.CheckRateLimit("r", "k", base)
	require.False(t, res.Allowed)
	require.NotNil(t, res.TokenBucket)
	assert.InDelta(t, 1.0, res.TokenBucket.RefillRate, 1e-9)
	assert.InDelta(t, float64(time.Second), float64(res.RetryAfter), float64(time.Millisecond))

	// A full window later the bucket is full again, and never more than full.
	res = m.CheckRateLimit("r", "k", base.Add(12*time.Second))
	require.True(t, res.Allowed)
	assert.InDelta(t, 3.0, res.TokenBucket.Tokens, 1e-6)
	assert.Equal(t, 3, res.Remaining)
}

func TestManager_TokenBucketPartialRefill(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmTokenBucket, 2, 2*time.Second))

	require.True(t, m.CheckRateLimit("r", "k", base).Allowed)
	require.True(t, m.CheckRateLimit("r", "k", base).Allowed)
	require.False(t, m.CheckRateLimit("r", "k", base.Add(500*time.Millisecond)).Allowed)

	assert.True(t, m.CheckRateLimit("r", "k", base.Add(time.Second)).Allowed)
}

// ============================================================================
// Test Cases for Manager - Leaky bucket
// ============================================================================

func TestManager_LeakyBucketDrain(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmLeakyBucket, 2, 10*time.Second))

	require.True(t, m.CheckRateLimit("r", "k", base).Allowed)
	require.True(t, m.CheckRateLimit("r", "k", base).Allowed)

	res := m.CheckRateLimit("r", "k", base.Add(time.Second))
	require.False(t, res.Allowed)
	require.NotNil(t, res.LeakyBucket)
	assert.Equal(t, 2, res.LeakyBucket.QueueLength)
	assert.InDelta(t, 0.2, res.LeakyBucket.LeakRate, 1e-9)
	assert.Equal(t, 4*time.Second, res.RetryAfter)

	res = m.CheckRateLimit("r", "k", base.Add(5*time.Second))
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.LeakyBucket.QueueLength)
}

func TestManager_LeakyBucketNanosecondDrainHoldsCapacity(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmLeakyBucket, 1000, 1000*time.Nanosecond))

	allowed := 0
	for range 5000 {
		if m.CheckRateLimit("r", "k", base).Allowed {
			allowed++
		}
	}
	assert.Equal(t, 1000, allowed)
}

func TestLeakyBucket_SubNanosecondDrainIsClamped(t *testing.T) {
	t.Parallel()

	rule := newRule("r", AlgorithmLeakyBucket, 1000, 500*time.Nanosecond)
	s := &leakyBucket{}

	allowed := 0
	for range 5000 {
		if s.check(&rule, base).Allowed {
			allowed++
		}
	}
	assert.Equal(t, 1000, allowed)
	assert.True(t, s.check(&rule, base.Add(time.Nanosecond)).Allowed)
}

// ============================================================================
// Test Cases for Manager - Rule management
// ============================================================================

func TestManager_MissingOrDisabledRuleAllows(t *testing.T) {
	t.Parallel()

	disabled := newRule("off", AlgorithmFixedWindow, 1, time.Minute)
	disabled.Enabled = false
	m := newManagerWith(t, disabled)

	for range 3 {
		assert.True(t, m.CheckRateLimit("off", "k", base).Allowed)
		assert.True(t, m.CheckRateLimit("missing", "k", base).Allowed)
	}
	assert.Equal(t, 0, m.TrackedKeys())
}

func TestManager_AddRule_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule Rule
	}{
		{name: "empty id", rule: newRule("", AlgorithmFixedWindow, 1, time.Second)},
		{name: "colon in id", rule: newRule("a:b", AlgorithmFixedWindow, 1, time.Second)},
		{name: "unknown algorithm", rule: newRule("r", "gcra", 1, time.Second)},
		{name: "zero requests", rule: newRule("r", AlgorithmFixedWindow, 0, time.Second)},
		{name: "zero window", rule: newRule("r", AlgorithmFixedWindow, 1, 0)},
		{name: "leaky window shorter than capacity", rule: newRule("r", AlgorithmLeakyBucket, 1000, 500*time.Nanosecond)},
		{
			name: "unknown key extractor",
			rule: func() Rule {
				r := newRule("r", AlgorithmFixedWindow, 1, time.Second)
				r.KeyExtractor = "cookie"
				return r
			}(),
		},
		{
			name: "custom without expression",
			rule: func() Rule {
				r := newRule("r", AlgorithmFixedWindow, 1, time.Second)
				r.KeyExtractor = KeySourceCustom
				return r
			}(),
		},
		{
			name: "expression does not compile",
			rule: func() Rule {
				r := newRule("r", AlgorithmFixedWindow, 1, time.Second)
				r.KeyExtractor = KeySourceCustom
				r.KeyExpression = "path +"
				return r
			}(),
		},
		{
			name: "expression is not a string",
			rule: func() Rule {
				r := newRule("r", AlgorithmFixedWindow, 1, time.Second)
				r.KeyExtractor = KeySourceCustom
				r.KeyExpression = "size(path)"
				return r
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewManager().AddRule(tt.rule)
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrConfigInvalid))
		})
	}
}

func TestManager_AddRule_ReplaceKeepsState(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmFixedWindow, 1, time.Minute))
	require.True(t, m.CheckRateLimit("r", "k", base).Allowed)

	replaced := newRule("r", AlgorithmFixedWindow, 1, time.Minute)
	replaced.Priority = 5
	require.NoError(t, m.AddRule(replaced))
	assert.False(t, m.CheckRateLimit("r", "k", base).Allowed, "same limits keep state")

	require.NoError(t, m.AddRule(newRule("r", AlgorithmFixedWindow, 2, time.Minute)))
	assert.True(t, m.CheckRateLimit("r", "k", base).Allowed, "new limits reset state")
}

func TestManager_RemoveRule(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t,
		newRule("r1", AlgorithmFixedWindow, 1, time.Minute),
		newRule("r10", AlgorithmFixedWindow, 1, time.Minute),
	)
	m.CheckRateLimit("r1", "k", base)
	m.CheckRateLimit("r10", "k", base)
	require.Equal(t, 2, m.TrackedKeys())

	assert.True(t, m.RemoveRule("r1"))
	assert.False(t, m.RemoveRule("r1"))
	assert.Equal(t, 1, m.TrackedKeys())

	_, ok := m.Rule("r1")
	assert.False(t, ok)
}

func TestManager_SetEnabledAndPriority(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t,
		newRule("a", AlgorithmFixedWindow, 1, time.Minute),
		newRule("b", AlgorithmFixedWindow, 1, time.Minute),
		newRule("c", AlgorithmFixedWindow, 1, time.Minute),
	)

	assert.Equal(t, []string{"a", "b", "c"}, m.ActiveRuleIDs())

	require.NoError(t, m.SetPriority("c", 10))
	require.NoError(t, m.SetEnabled("a", false))
	assert.Equal(t, []string{"c", "b"}, m.ActiveRuleIDs())

	rules := m.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "c", rules[0].ID)
	assert.Equal(t, "a", rules[1].ID)
	assert.False(t, rules[1].Enabled)

	assert.ErrorIs(t, m.SetEnabled("missing", true), util.ErrNotFound)
	assert.ErrorIs(t, m.SetPriority("missing", 1), util.ErrNotFound)
}

// ============================================================================
// Test Cases for Manager - Sweep
// ============================================================================

func TestManager_Sweep(t *testing.T) {
	t.Parallel()

	m := NewManager(WithRetention(time.Minute), WithManagerMetrics(observability.NewMetrics("test")))
	require.NoError(t, m.AddRule(newRule("short", AlgorithmSlidingWindow, 5, 10*time.Second)))
	require.NoError(t, m.AddRule(newRule("long", AlgorithmSlidingWindow, 5, time.Hour)))

	m.CheckRateLimit("short", "idle", base)
	m.CheckRateLimit("long", "idle", base)
	m.CheckRateLimit("short", "fresh", base.Add(2*time.Minute))

	evicted := m.Sweep(base.Add(2*time.Minute + time.Second))

	assert.Equal(t, 1, evicted, "only the short rule's idle key is past its horizon")
	assert.Equal(t, 2, m.TrackedKeys())

	evicted = m.Sweep(base.Add(2 * time.Hour))
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 0, m.TrackedKeys())
}

func TestManager_StartStop(t *testing.T) {
	t.Parallel()

	m := NewManager(WithSweepInterval(10*time.Millisecond), WithRetention(time.Millisecond))
	require.NoError(t, m.AddRule(newRule("r", AlgorithmFixedWindow, 1, time.Millisecond)))
	m.CheckRateLimit("r", "k", time.Now().Add(-time.Minute))

	m.Start(context.Background())
	m.Start(context.Background())

	require.Eventually(t, func() bool {
		return m.TrackedKeys() == 0
	}, time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestManager_SweepLoopSurvivesPanic(t *testing.T) {
	t.Parallel()

	m := NewManager(WithSweepInterval(10*time.Millisecond), WithRetention(time.Millisecond))
	require.NoError(t, m.AddRule(newRule("r", AlgorithmFixedWindow, 1, time.Millisecond)))
	m.CheckRateLimit("r", "k", time.Now().Add(-time.Minute))

	var calls atomic.Int32
	m.now = func() time.Time {
		if calls.Add(1) == 1 {
			panic("clock failure")
		}
		return time.Now()
	}

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return calls.Load() >= 2 && m.TrackedKeys() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestManager_ConcurrentChecks(t *testing.T) {
	t.Parallel()

	m := newManagerWith(t, newRule("r", AlgorithmFixedWindow, 50, time.Minute))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.CheckRateLimit("r", "k", base).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}
