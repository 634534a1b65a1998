// Package feature holds the per-scope view models: each client subscribes
// to its scope's broadcasts, reconciles them into a snapshot and exposes a
// few actions. Clients never open or close the transport.
package feature

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/livesync/internal/metrics"
	"github.com/DoyleJ11/livesync/internal/mutation"
	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/internal/session"
	"github.com/DoyleJ11/livesync/pkg/types"
	"go.uber.org/zap"
)

var ErrFeatureClosed = errors.New("feature client closed")

// Channel is the slice of a scope session a feature needs. *session.Handle
// satisfies it.
type Channel interface {
	Scope() string
	Status() session.Status
	Settings() types.Settings
	Subscribe(event string, fn session.Listener) func()
	Call(ctx context.Context, event string, payload any, timeout time.Duration) (types.Reply, error)
}

type Options struct {
	// UserID identifies the local user for rank, team and sender lookups.
	UserID          string
	ListLimit       int
	LeaderboardSize int
	BatchQuiet      time.Duration
	CacheCapacity   int
	CallTimeout     time.Duration
	MutationTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.ListLimit <= 0 {
		o.ListLimit = reconcile.DefaultListLimit
	}
	if o.LeaderboardSize <= 0 {
		o.LeaderboardSize = reconcile.DefaultLeaderboard
	}
	if o.MutationTimeout <= 0 {
		o.MutationTimeout = mutation.DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// base carries what every client shares: the channel, its subscriptions
// and change notification.
type base struct {
	name    string
	ch      Channel
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	subMu    sync.Mutex
	unsubs   []func()
	onChange []func()
	closed   bool
}

func (b *base) init(name string, ch Channel, opts Options) {
	opts = opts.withDefaults()
	b.name = name
	b.ch = ch
	b.opts = opts
	b.log = opts.Logger.With(zap.String("module", name), zap.String("scope", ch.Scope()))
	b.metrics = opts.Metrics
}

func (b *base) on(event string, fn func(types.Envelope)) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.unsubs = append(b.unsubs, b.ch.Subscribe(event, fn))
}

// OnChange registers fn to run after every applied state change.
func (b *base) OnChange(fn func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.onChange = append(b.onChange, fn)
}

func (b *base) changed() {
	b.subMu.Lock()
	if b.closed {
		b.subMu.Unlock()
		return
	}
	fns := append([]func(){}, b.onChange...)
	b.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *base) isClosed() bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return b.closed
}

// close drops every subscription; it reports false if already closed.
func (b *base) close() bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	b.onChange = nil
	return true
}

// drop records a broadcast that failed validation. Such pushes are never
// surfaced to the caller.
func (b *base) drop(env types.Envelope, err error) {
	b.metrics.BroadcastDropped(env.Type, "invalid")
	b.log.Debug("dropping broadcast", zap.String("event", env.Type), zap.Error(err))
}

// decode unpacks env's payload into T, dropping it on failure.
func decode[T any](b *base, env types.Envelope) (T, bool) {
	var v T
	if err := env.Decode(&v); err != nil {
		b.drop(env, err)
		return v, false
	}
	return v, true
}

// replyData unpacks a successful reply's data into T.
func replyData[T any](reply types.Reply) (T, error) {
	var v T
	if err := reply.DecodeData(&v); err != nil {
		return v, err
	}
	return v, nil
}

// Status is the connection part of every snapshot.
type Status struct {
	State  session.State
	Joined bool
	Err    error
}

func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	var msg string
	if s.Err != nil {
		msg = s.Err.Error()
	}
	return types.Marshal(struct {
		plain
		Err string `json:",omitempty"`
	}{plain: plain(s), Err: msg})
}

func statusOf(ch Channel) Status {
	st := ch.Status()
	return Status{State: st.State, Joined: st.Joined(), Err: st.Err}
}
