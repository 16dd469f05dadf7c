package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var errNoLoader = errors.New("cache: loader is required")

// Store is an in-process TTL cache. The club-site fetcher keeps downloaded
// pages here so every group that points at the same homepage costs one request.
// A zero ttl keeps entries until the process exits.
type Store[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	values  map[string]V
	expires map[string]time.Time

	group singleflight.Group
}

func NewStore[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		ttl:     ttl,
		now:     time.Now,
		values:  make(map[string]V),
		expires: make(map[string]time.Time),
	}
}

// Get returns a live entry. Expired entries are evicted on read.
func (s *Store[V]) Get(_ context.Context, key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key)
}

func (s *Store[V]) lookupLocked(key string) (V, bool) {
	v, ok := s.values[key]
	if !ok {
		return v, false
	}
	if deadline, expiring := s.expires[key]; expiring && !s.now().Before(deadline) {
		delete(s.values, key)
		delete(s.expires, key)
		var zero V
		return zero, false
	}
	return v, true
}

func (s *Store[V]) Set(_ context.Context, key string, value V) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	if s.ttl > 0 {
		s.expires[key] = s.now().Add(s.ttl)
	}
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// GetOrLoad returns the cached value for key or calls loader, sharing one
// in-flight call between concurrent callers of the same key. Failed loads
// are not stored. An empty key bypasses the cache.
func (s *Store[V]) GetOrLoad(ctx context.Context, key string, loader func(context.Context) (V, error)) (V, error) {
	var zero V
	if loader == nil {
		return zero, errNoLoader
	}
	if key == "" {
		return loader(ctx)
	}
	if v, ok := s.Get(ctx, key); ok {
		return v, nil
	}

	out, err, _ := s.group.Do(key, func() (any, error) {
		if v, ok := s.Get(ctx, key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return out.(V), nil
}
