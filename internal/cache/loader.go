package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader fronts an expensive call with a Cache and a pending-request set:
// concurrent loads for the same key share one call, and only successful
// results are stored.
type Loader[V any] struct {
	cache    *Cache[string, V]
	inflight singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewLoader[V any](capacity int) *Loader[V] {
	return &Loader[V]{
		cache:   New[string, V](capacity),
		pending: make(map[string]struct{}),
	}
}

func (l *Loader[V]) Cache() *Cache[string, V] { return l.cache }

// Load returns the cached value for key or runs fn once for all concurrent
// callers. shared reports whether the value came from the cache or from
// another caller's request.
//
// fn runs detached from the first caller's cancellation so a caller giving
// up does not fail the others; fn must bound itself.
func (l *Loader[V]) Load(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	if v, ok := l.cache.Get(key); ok {
		return v, true, nil
	}

	callCtx := context.WithoutCancel(ctx)
	ch := l.inflight.DoChan(key, func() (any, error) {
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
		l.setPending(key, true)
		defer l.setPending(key, false)

		v, err := fn(callCtx)
		if err != nil {
			return nil, err
		}
		l.cache.Put(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Shared, res.Err
		}
		return res.Val.(V), res.Shared, nil
	}
}

// Pending reports whether a load for key is outstanding.
func (l *Loader[V]) Pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[key]
	return ok
}

func (l *Loader[V]) setPending(key string, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on {
		l.pending[key] = struct{}{}
	} else {
		delete(l.pending, key)
	}
}
