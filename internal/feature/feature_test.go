package feature

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/livesync/internal/session"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, event string, payload any) (types.Reply, error)

// fakeChannel stands in for a joined scope session. emit delivers a
// broadcast synchronously, like the session read loop does.
type fakeChannel struct {
	scope string

	mu        sync.Mutex
	settings  types.Settings
	listeners map[string]map[int]session.Listener
	nextID    int
	calls     []string
	handler   handlerFunc
}

func newFakeChannel(scope string) *fakeChannel {
	return &fakeChannel{
		scope:     scope,
		settings:  types.DefaultSettings(),
		listeners: make(map[string]map[int]session.Listener),
	}
}

func (c *fakeChannel) Scope() string { return c.scope }

func (c *fakeChannel) Status() session.Status {
	return session.Status{Scope: c.scope, State: session.StateJoined}
}

func (c *fakeChannel) Settings() types.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *fakeChannel) Subscribe(event string, fn session.Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]session.Listener)
	}
	c.listeners[event][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[event], id)
		if len(c.listeners[event]) == 0 {
			delete(c.listeners, event)
		}
	}
}

func (c *fakeChannel) Call(ctx context.Context, event string, payload any, timeout time.Duration) (types.Reply, error) {
	c.mu.Lock()
	c.calls = append(c.calls, event)
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return types.Reply{Success: true}, nil
	}
	return h(ctx, event, payload)
}

func (c *fakeChannel) setHandler(h handlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *fakeChannel) setSettings(s types.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

func (c *fakeChannel) emit(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := types.NewEnvelope(event, c.scope, payload)
	require.NoError(t, err)
	c.mu.Lock()
	fns := make([]session.Listener, 0, len(c.listeners[event]))
	for _, fn := range c.listeners[event] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

func (c *fakeChannel) emitRaw(t *testing.T, event, raw string) {
	t.Helper()
	c.emit(t, event, json.RawMessage(raw))
}

func (c *fakeChannel) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.listeners {
		n += len(m)
	}
	return n
}

func (c *fakeChannel) callCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.calls {
		if e == event {
			n++
		}
	}
	return n
}

func dataReply(t *testing.T, v any) types.Reply {
	t.Helper()
	raw, err := types.Marshal(v)
	require.NoError(t, err)
	return types.Reply{Success: true, Data: raw}
}

// payloadFields decodes a call payload the way a server would see it.
func payloadFields(t *testing.T, payload any) map[string]any {
	t.Helper()
	raw, err := types.Marshal(payload)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	return fields
}
