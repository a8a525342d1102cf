package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ============================================================================
// Test Cases for MemoryStore - Basic Operations
// ============================================================================

func TestMemoryStore_GetPut(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore[int]()

	_, ok := s.Get("a", base)
	assert.False(t, ok)

	s.Put("a", 1, base)
	v, ok := s.Get("a", base)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	s.Put("a", 2, base)
	v, _ = s.Get("a", base)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_GetOrCreate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore[*int]()
	calls := 0
	create := func() *int {
		calls++
		v := 7
		return &v
	}

	first := s.GetOrCreate("k", base, create)
	second := s.GetOrCreate("k", base, create)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore[int]()
	s.Put("a", 1, base)

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_DeletePrefix(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore[int]()
	s.Put(Key("r1", "a"), 1, base)
	s.Put(Key("r1", "b"), 1, base)
	s.Put(Key("r10", "a"), 1, base)
	s.Put(Key("r2", "a"), 1, base)

	assert.Equal(t, 2, s.DeletePrefix("r1:"))
	assert.Equal(t, 2, s.Len())

	_, ok := s.Get(Key("r10", "a"), base)
	assert.True(t, ok)
}

// ============================================================================
// Test Cases for MemoryStore - Eviction
// ============================================================================

func TestMemoryStore_EvictIdle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		horizon   map[string]time.Duration
		now       time.Time
		wantKeys  []string
		wantCount int
	}{
		{
			name:      "nothing idle",
			horizon:   map[string]time.Duration{},
			now:       base.Add(30 * time.Second),
			wantKeys:  []string{"old", "mid", "new"},
			wantCount: 0,
		},
		{
			name:      "evicts entries past the horizon",
			horizon:   map[string]time.Duration{},
			now:       base.Add(3*time.Minute + time.Second),
			wantKeys:  []string{"mid", "new"},
			wantCount: 1,
		},
		{
			name:      "longer per-key horizon keeps entry",
			horizon:   map[string]time.Duration{"old": 10 * time.Minute},
			now:       base.Add(4*time.Minute + time.Second),
			wantKeys:  []string{"old", "new"},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewMemoryStore[int]()
			s.Put("old", 1, base)
			s.Put("mid", 2, base.Add(time.Minute))
			s.Put("new", 3, base.Add(3*time.Minute))

			horizon := func(key string, _ int) time.Duration {
				if h, ok := tt.horizon[key]; ok {
					return h
				}
				return 3 * time.Minute
			}

			got := s.EvictIdle(tt.now, 3*time.Minute, horizon)
			assert.Equal(t, tt.wantCount, got)
			assert.Equal(t, len(tt.wantKeys), s.Len())
			for _, k := range tt.wantKeys {
				_, ok := s.Get(k, tt.now)
				assert.True(t, ok, "key %s should remain", k)
			}
		})
	}
}

func TestMemoryStore_EvictIdle_AccessRefreshes(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore[int]()
	s.Put("a", 1, base)
	s.Put("b", 1, base)

	_, _ = s.Get("a", base.Add(5*time.Minute))

	evicted := s.EvictIdle(base.Add(6*time.Minute), 2*time.Minute, func(string, int) time.Duration {
		return 2 * time.Minute
	})

	assert.Equal(t, 1, evicted)
	_, ok := s.Get("a", base.Add(6*time.Minute))
	assert.True(t, ok)
}
