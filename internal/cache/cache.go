// Package cache wraps an expiring LRU for upstream auxiliary lookups
// (actor names, account details, product catalog). Entries age out after a
// configurable TTL; misses fall back to a caller-supplied fetch.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 512

// Lookup is a TTL-bounded read-through cache keyed by string.
type Lookup[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewLookup creates a cache holding up to size entries for at most ttl.
// size <= 0 falls back to a sensible default.
func NewLookup[V any](size int, ttl time.Duration) *Lookup[V] {
	if size <= 0 {
		size = defaultSize
	}
	return &Lookup[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (l *Lookup[V]) Get(key string) (V, bool) {
	return l.lru.Get(key)
}

func (l *Lookup[V]) Set(key string, value V) {
	l.lru.Add(key, value)
}

// GetOrFetch returns the cached value or fetches and stores it. Fetch
// errors are not cached.
func (l *Lookup[V]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context, key string) (V, error)) (V, error) {
	if v, ok := l.lru.Get(key); ok {
		return v, nil
	}
	v, err := fetch(ctx, key)
	if err != nil {
		return v, err
	}
	l.lru.Add(key, v)
	return v, nil
}
