package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/livesync/internal/rpc"
	"github.com/DoyleJ11/livesync/pkg/types"
)

// Handle is one consumer's reference on a scope session. Feature modules
// send and subscribe through it; only the Manager opens or closes the
// transport.
type Handle struct {
	ref      uint64
	session  *Session
	m        *Manager
	released atomic.Bool
}

func (h *Handle) Scope() string { return h.session.scope }

func (h *Handle) Session() *Session { return h.session }

func (h *Handle) Status() Status { return h.session.Status() }

func (h *Handle) Settings() types.Settings { return h.session.Settings() }

func (h *Handle) Subscribe(event string, fn Listener) func() {
	return h.session.Subscribe(event, fn)
}

func (h *Handle) Watch() (<-chan Status, func()) { return h.session.Watch() }

func (h *Handle) Call(ctx context.Context, event string, payload any, timeout time.Duration) (types.Reply, error) {
	if h.released.Load() {
		return types.Reply{}, rpc.ErrClosed
	}
	return h.session.Call(ctx, event, payload, timeout)
}

func (h *Handle) Start(ctx context.Context, event string, payload any, timeout time.Duration) *rpc.Call {
	if h.released.Load() {
		return rpc.Failed(event, rpc.ErrClosed)
	}
	return h.session.Start(ctx, event, payload, timeout)
}

func (h *Handle) Retry() { h.session.Retry() }

// Release drops this reference. Releasing twice is a no-op. When it was
// the last reference, Release returns after the session has left the
// scope and closed its transport.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	if err := h.m.post(context.Background(), releaseMsg{handle: h, done: done}); err != nil {
		return
	}
	select {
	case <-done:
	case <-h.m.done:
	}
}
