// Package store remembers the reply given for each idempotency key so a
// retried mutation is answered instead of applied twice.
package store

import (
	"context"
	"sync"

	"github.com/DoyleJ11/livesync/pkg/types"
)

type Store interface {
	// Lookup returns the reply saved for (scope, key), if any.
	Lookup(ctx context.Context, scope, key string) (types.Reply, bool, error)
	Save(ctx context.Context, scope, key, event string, reply types.Reply) error
	Close() error
}

type memKey struct{ scope, key string }

// Memory is a process-local Store.
type Memory struct {
	mu      sync.RWMutex
	replies map[memKey]types.Reply
}

func NewMemory() *Memory {
	return &Memory{replies: make(map[memKey]types.Reply)}
}

func (m *Memory) Lookup(_ context.Context, scope, key string) (types.Reply, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.replies[memKey{scope, key}]
	return r, ok, nil
}

// Save keeps the first reply for a key.
func (m *Memory) Save(_ context.Context, scope, key, _ string, reply types.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{scope, key}
	if _, ok := m.replies[k]; !ok {
		m.replies[k] = reply
	}
	return nil
}

func (m *Memory) Close() error { return nil }
