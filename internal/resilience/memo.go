package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Memo caches successful results per key for a fixed timeout. Failed calls
// are never cached. The key space is expected to be small (channel ids), so
// entries are only dropped once they expire.
type Memo[K comparable, V any] struct {
	cache *expirable.LRU[K, V]
	group singleflight.Group
}

// NewMemo returns a memo whose entries stay valid for timeout after they are
// recorded.
func NewMemo[K comparable, V any](timeout time.Duration) (*Memo[K, V], error) {
	if timeout <= 0 {
		return nil, errors.New("resilience: memo timeout must be positive")
	}
	return &Memo[K, V]{
		cache: expirable.NewLRU[K, V](0, nil, timeout),
	}, nil
}

// Get returns the cached value for key, or calls fn and caches its result.
// Concurrent misses for the same key share a single call.
func (m *Memo[K, V]) Get(key K, fn func() (V, error)) (V, error) {
	if v, ok := m.cache.Get(key); ok {
		return v, nil
	}

	res, err, _ := m.group.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := m.cache.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		m.cache.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Len returns the number of live entries.
func (m *Memo[K, V]) Len() int {
	return m.cache.Len()
}
