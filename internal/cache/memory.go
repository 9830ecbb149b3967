package cache

import (
	"context"
	"sync"
	"time"

	ttlcache "github.com/llm-devops/llm-analytics-hub/pkg/cache"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryProvider implements Provider in process. It backs single-replica
// deployments and tests.
type MemoryProvider struct {
	mu      sync.Mutex
	entries *ttlcache.TTLCache[memoryEntry]
	now     func() time.Time
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{entries: ttlcache.NewTTLCache[memoryEntry](0), now: time.Now}
}

func (p *MemoryProvider) live(key string) (memoryEntry, bool) {
	e, ok := p.entries.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !p.now().Before(e.expiresAt) {
		p.entries.Delete(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (p *MemoryProvider) put(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	p.entries.Set(key, e)
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.live(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.data...), nil
}

// Set stores value; ttl <= 0 keeps it until deleted.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.put(key, value, ttl)
	return nil
}

// SetNX stores value only when key is absent or expired.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live(key); ok {
		return false, nil
	}
	p.put(key, value, ttl)
	return true, nil
}

// Del removes key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Delete(key)
	return nil
}

// Close drops every entry.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = ttlcache.NewTTLCache[memoryEntry](0)
	return nil
}
