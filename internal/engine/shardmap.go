package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// shardMap is a string-keyed map split across independently locked shards so
// that operations on distinct keys rarely contend. All mutation of a value
// happens inside Update, which serialises access per key.
type shardMap[V any] struct {
	shards  [shardCount]shard[V]
	newItem func() V
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func newShardMap[V any](newItem func() V) *shardMap[V] {
	m := &shardMap[V]{newItem: newItem}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *shardMap[V]) shardFor(key string) *shard[V] {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}

// Update runs fn with the value for key, inserting a default first if absent.
func (m *shardMap[V]) Update(key string, fn func(v V) V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	if !ok {
		v = m.newItem()
	}
	s.items[key] = fn(v)
}

// View runs fn with the value for key under a read lock; ok is false if absent.
func (m *shardMap[V]) View(key string, fn func(v V)) (ok bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	if ok {
		fn(v)
	}
	return ok
}

// Delete removes key.
func (m *shardMap[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Range visits every entry shard by shard under each shard's read lock.
// Returning false from fn stops the walk.
func (m *shardMap[V]) Range(fn func(key string, v V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Sweep visits every entry under each shard's write lock; entries for which
// keep returns false are deleted. It returns the number removed.
func (m *shardMap[V]) Sweep(keep func(key string, v V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			if !keep(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len counts entries across shards.
func (m *shardMap[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
