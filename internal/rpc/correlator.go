package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/livesync/internal/metrics"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTimeout        = errors.New("request timed out")
	ErrNotConnected   = errors.New("transport not connected")
	ErrCanceled       = errors.New("call canceled")
	ErrClosed         = errors.New("scope closed")
	ErrConnectionLost = errors.New("connection lost before reply")
)

const DefaultTimeout = 10 * time.Second

// RemoteError is a failure reported by the server in a {success:false} reply.
type RemoteError struct {
	Event   string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Event + ": request rejected"
	}
	return fmt.Sprintf("%s: %s", e.Event, e.Message)
}

// SendFunc writes one frame. It must return ErrNotConnected, without
// writing anything, when no transport is live.
type SendFunc func(ctx context.Context, env types.Envelope) error

// Correlator turns one-way emits into awaitable calls. It owns the pending
// call table for one scope.
type Correlator struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	newID   func() string

	mu      sync.Mutex
	pending map[string]*Call
	closed  bool
}

type Option func(*Correlator)

func WithLogger(log *zap.Logger) Option { return func(c *Correlator) { c.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Correlator) { c.metrics = m } }

// WithIDGenerator replaces the uuid correlation ids, for tests.
func WithIDGenerator(fn func() string) Option { return func(c *Correlator) { c.newID = fn } }

func NewCorrelator(opts ...Option) *Correlator {
	c := &Correlator{
		log:     zap.NewNop(),
		newID:   uuid.NewString,
		pending: make(map[string]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call is one outstanding request. It resolves exactly once: by reply,
// timeout, cancel, or correlator shutdown.
type Call struct {
	ID       string
	Event    string
	Payload  json.RawMessage
	Deadline time.Time

	c     *Correlator
	done  chan struct{}
	once  sync.Once
	timer *time.Timer
	reply types.Reply
	err   error
}

// Start registers a call, arms its timer and emits it through send.
func (c *Correlator) Start(ctx context.Context, send SendFunc, scope, event string, payload any, timeout time.Duration) *Call {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	call := &Call{ID: c.newID(), Event: event, c: c, done: make(chan struct{})}

	env, err := types.NewEnvelope(event, scope, payload)
	if err != nil {
		call.resolve(types.Reply{}, err)
		return call
	}
	env.ID = call.ID
	call.Payload = env.Payload

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.resolve(types.Reply{}, ErrClosed)
		return call
	}
	// Register before sending so a fast reply always finds its entry.
	call.Deadline = time.Now().Add(timeout)
	c.pending[call.ID] = call
	call.timer = time.AfterFunc(timeout, func() { c.expire(call.ID) })
	c.mu.Unlock()

	if err := send(ctx, env); err != nil {
		c.take(call.ID)
		if !errors.Is(err, ErrNotConnected) {
			err = fmt.Errorf("send %s: %w", event, err)
		}
		call.resolve(types.Reply{}, err)
	}
	return call
}

// Failed returns a call for event that has already resolved with err. It
// is never registered and nothing is sent.
func Failed(event string, err error) *Call {
	call := &Call{Event: event, done: make(chan struct{})}
	call.resolve(types.Reply{}, err)
	return call
}

// Call is Start followed by Wait.
func (c *Correlator) Call(ctx context.Context, send SendFunc, scope, event string, payload any, timeout time.Duration) (types.Reply, error) {
	return c.Start(ctx, send, scope, event, payload, timeout).Wait(ctx)
}

// Resolve routes a reply frame to its pending call. It reports false for
// replies whose call already resolved (late replies after a timeout).
func (c *Correlator) Resolve(env types.Envelope) bool {
	call, ok := c.take(env.ReplyTo)
	if !ok {
		c.log.Debug("dropping uncorrelated reply",
			zap.String("event", env.Type),
			zap.String("reply_to", env.ReplyTo),
		)
		return false
	}

	var reply types.Reply
	if err := env.Decode(&reply); err != nil {
		call.resolve(types.Reply{}, err)
		return true
	}
	if !reply.Success {
		call.resolve(reply, &RemoteError{Event: call.Event, Message: reply.Error})
		return true
	}
	call.resolve(reply, nil)
	return true
}

// FailPending rejects every outstanding call with err and keeps accepting new ones.
func (c *Correlator) FailPending(err error) {
	for _, call := range c.drain(false) {
		call.resolve(types.Reply{}, err)
	}
}

// Close rejects every outstanding call with ErrClosed and refuses new ones.
func (c *Correlator) Close() {
	for _, call := range c.drain(true) {
		call.resolve(types.Reply{}, ErrClosed)
	}
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id string) {
	call, ok := c.take(id)
	if !ok {
		return
	}
	c.log.Debug("call timed out", zap.String("event", call.Event), zap.String("id", id))
	call.resolve(types.Reply{}, ErrTimeout)
}

func (c *Correlator) take(id string) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return call, ok
}

func (c *Correlator) drain(shutdown bool) []*Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if shutdown {
		c.closed = true
	}
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	return calls
}

func (call *Call) resolve(reply types.Reply, err error) {
	call.once.Do(func() {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.reply = reply
		call.err = err
		close(call.done)
		if call.c != nil {
			call.c.metrics.CallDone(outcome(err))
		}
	})
}

// Done is closed once the call has resolved.
func (call *Call) Done() <-chan struct{} { return call.done }

// Result returns the resolution; only meaningful after Done is closed.
func (call *Call) Result() (types.Reply, error) {
	select {
	case <-call.done:
		return call.reply, call.err
	default:
		return types.Reply{}, errors.New("call still pending")
	}
}

// Wait blocks until the call resolves. If ctx ends first the call is canceled.
func (call *Call) Wait(ctx context.Context) (types.Reply, error) {
	select {
	case <-call.done:
		return call.reply, call.err
	case <-ctx.Done():
		call.Cancel()
		<-call.done
		return call.reply, call.err
	}
}

// Cancel resolves the call with ErrCanceled unless it already resolved.
// A reply arriving afterwards is dropped.
func (call *Call) Cancel() {
	if call.c != nil {
		call.c.take(call.ID)
	}
	call.resolve(types.Reply{}, ErrCanceled)
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &remote):
		return metrics.OutcomeRemote
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrNotConnected):
		return metrics.OutcomeNotConnected
	case errors.Is(err, ErrCanceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeClosed
	}
}
