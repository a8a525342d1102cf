// Package store provides the per-key state store used by the rate limiter.
//
// Entries are indexed by last access, so a sweep that walks from the least
// recently used end can stop at the first entry that is still fresh.
package store

import (
	"container/list"
	"strings"
	"time"
)

type entry[V any] struct {
	key        string
	value      V
	lastAccess time.Time
}

// MemoryStore is an LRU-indexed map of per-key state. It is not safe for
// concurrent use; callers serialize access.
type MemoryStore[V any] struct {
	ll    *list.List
	index map[string]*list.Element
}

// NewMemoryStore creates an empty store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{
		ll:    list.New(),
		index: make(map[string]*list.Element),
	}
}

// Key builds the store key for a rule and a client key.
func Key(ruleID, key string) string {
	return ruleID + ":" + key
}

// Get returns the value for key and marks it as accessed at now.
func (s *MemoryStore[V]) Get(key string, now time.Time) (V, bool) {
	el, ok := s.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[V])
	e.lastAccess = now
	s.ll.MoveToFront(el)
	return e.value, true
}

// GetOrCreate returns the value for key, creating it with create when absent.
func (s *MemoryStore[V]) GetOrCreate(key string, now time.Time, create func() V) V {
	if v, ok := s.Get(key, now); ok {
		return v
	}
	v := create()
	s.Put(key, v, now)
	return v
}

// Put stores value under key and marks it as accessed at now.
func (s *MemoryStore[V]) Put(key string, value V, now time.Time) {
	if el, ok := s.index[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.lastAccess = now
		s.ll.MoveToFront(el)
		return
	}
	s.index[key] = s.ll.PushFront(&entry[V]{key: key, value: value, lastAccess: now})
}

// Delete removes key. It reports whether the key existed.
func (s *MemoryStore[V]) Delete(key string) bool {
	el, ok := s.index[key]
	if !ok {
		return false
	}
	s.ll.Remove(el)
	delete(s.index, key)
	return true
}

// DeletePrefix removes every key starting with prefix and returns the count.
func (s *MemoryStore[V]) DeletePrefix(prefix string) int {
	removed := 0
	for el := s.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry[V])
		if strings.HasPrefix(e.key, prefix) {
			s.ll.Remove(el)
			delete(s.index, e.key)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored keys.
func (s *MemoryStore[V]) Len() int {
	return len(s.index)
}

// HorizonFunc returns how long an entry may stay idle before it is evicted.
type HorizonFunc[V any] func(key string, value V) time.Duration

// EvictIdle walks from the least recently used entry and removes every entry
// idle for longer than its horizon. minHorizon must not exceed any value
// horizon returns; the walk stops at the first entry idle for less than it.
// It returns the number of evicted entries.
func (s *MemoryStore[V]) EvictIdle(now time.Time, minHorizon time.Duration, horizon HorizonFunc[V]) int {
	evicted := 0
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[V])
		idle := now.Sub(e.lastAccess)
		if idle <= minHorizon {
			break
		}
		if idle > horizon(e.key, e.value) {
			s.ll.Remove(el)
			delete(s.index, e.key)
			evicted++
		}
		el = prev
	}
	return evicted
}
