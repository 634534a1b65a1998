package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/livesync/internal/metrics"
	"github.com/DoyleJ11/livesync/internal/rpc"
	"github.com/DoyleJ11/livesync/internal/transport"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateJoined       State = "joined"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Status is the observable connection state of a scope.
type Status struct {
	Scope    string
	State    State
	Err      error
	Settings types.Settings
	Attempt  int
	Since    time.Time
}

func (s Status) Joined() bool { return s.State == StateJoined }

// MarshalJSON renders Err as its message; error values carry no exported
// fields and would otherwise encode as {}.
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	return types.Marshal(struct {
		plain
		Err string `json:",omitempty"`
	}{plain: plain(s), Err: errString(s.Err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s Status) Connected() bool { return s.State == StateConnected || s.State == StateJoined }

type Options struct {
	DialTimeout       time.Duration
	JoinTimeout       time.Duration
	CallTimeout       time.Duration
	LeaveTimeout      time.Duration
	ReconnectAttempts int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = rpc.DefaultTimeout
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = time.Second
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Listener receives a broadcast for the scope it subscribed on.
type Listener func(env types.Envelope)

// Session owns the one transport connection for a scope: dialing with
// bounded retries, the join handshake, reply routing and broadcast fan-out.
// It lives until Close.
type Session struct {
	scope      string
	credential string
	createdAt  time.Time
	dialer     transport.Dialer
	opts       Options
	log        *zap.Logger
	metrics    *metrics.Metrics
	calls      *rpc.Correlator

	mu           sync.RWMutex
	status       Status
	conn         transport.Conn
	listeners    map[string]map[uint64]Listener
	watchers     map[uint64]chan Status
	nextID       uint64
	closeErr     error
	joinInFlight bool
	torn         bool

	retry  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(scope, credential string, dialer transport.Dialer, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Logger.With(zap.String("module", "session"), zap.String("scope", scope))

	s := &Session{
		scope:      scope,
		credential: credential,
		createdAt:  time.Now(),
		dialer:     dialer,
		opts:       opts,
		log:        log,
		metrics:    opts.Metrics,
		calls:      rpc.NewCorrelator(rpc.WithLogger(log), rpc.WithMetrics(opts.Metrics)),
		status:     Status{Scope: scope, State: StateConnecting, Settings: types.DefaultSettings(), Since: time.Now()},
		listeners:  make(map[string]map[uint64]Listener),
		watchers:   make(map[uint64]chan Status),
		retry:      make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) Scope() string { return s.scope }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Call sends a correlated request on this scope's transport.
func (s *Session) Call(ctx context.Context, event string, payload any, timeout time.Duration) (types.Reply, error) {
	return s.Start(ctx, event, payload, timeout).Wait(ctx)
}

// Start is Call without waiting; the returned call can be awaited or canceled.
func (s *Session) Start(ctx context.Context, event string, payload any, timeout time.Duration) *rpc.Call {
	if timeout <= 0 {
		timeout = s.opts.CallTimeout
	}
	return s.calls.Start(ctx, s.send, s.scope, event, payload, timeout)
}

// Subscribe registers fn for broadcasts of event on this scope. Listeners
// only fire while the scope is joined. The returned func unsubscribes.
func (s *Session) Subscribe(event string, fn Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[event] == nil {
		s.listeners[event] = make(map[uint64]Listener)
	}
	s.listeners[event][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners[event], id)
			if len(s.listeners[event]) == 0 {
				delete(s.listeners, event)
			}
		})
	}
}

// Watch streams status changes. The channel holds only the latest status
// and is closed at teardown or when stop is called.
func (s *Session) Watch() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.torn {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.watchers[id] = ch
	ch <- s.status
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// Retry restarts a scope that gave up: after dial attempts ran out, after
// an explicit remote close, or after the join was rejected.
func (s *Session) Retry() {
	s.mu.Lock()
	st := s.status.State
	conn := s.conn
	rejoin := st == StateConnected && !s.joinInFlight && conn != nil
	if rejoin {
		s.joinInFlight = true
	}
	s.mu.Unlock()

	switch {
	case rejoin:
		go s.join(conn)
	case st == StateError || st == StateDisconnected:
		select {
		case s.retry <- struct{}{}:
		default:
		}
	}
}

// Close leaves the scope, closes the transport and waits for every
// goroutine and timer owned by the session to stop.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeErr
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	state := StateConnecting
	for {
		conn, err := s.dial(state)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setState(StateError, err)
			if !s.waitRetry() {
				return
			}
			state = StateConnecting
			continue
		}

		dropErr := s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		if dropErr == nil {
			s.setState(StateDisconnected, nil)
			if !s.waitRetry() {
				return
			}
			state = StateConnecting
			continue
		}
		s.setState(StateReconnecting, dropErr)
		state = StateReconnecting
	}
}

func (s *Session) waitRetry() bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-s.retry:
		return true
	}
}

// dial makes up to ReconnectAttempts attempts with exponential backoff. The
// backoff timer is bound to the session context.
func (s *Session) dial(state State) (transport.Conn, error) {
	if state == StateConnecting {
		s.setState(StateConnecting, nil)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectInitial
	b.MaxInterval = s.opts.ReconnectMax
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.ReconnectAttempts-1)), s.ctx)

	var conn transport.Conn
	attempt := 0
	op := func() error {
		attempt++
		s.setAttempt(attempt)
		if state == StateReconnecting || attempt > 1 {
			s.metrics.ReconnectAttempt()
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
		defer cancel()
		c, err := s.dialer.Dial(ctx, s.scope, s.credential)
		if err != nil {
			if errors.Is(err, transport.ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("dial failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs one connection until teardown or loss. It returns nil for an
// explicit close and the cause for a drop.
func (s *Session) serve(conn transport.Conn) error {
	s.mu.Lock()
	s.conn = conn
	s.joinInFlight = true
	s.mu.Unlock()
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	s.setState(StateConnected, nil)

	readCtx, stopRead := context.WithCancel(context.Background())
	defer stopRead()
	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(readCtx, conn) }()

	joinDone := make(chan struct{})
	go func() {
		defer close(joinDone)
		s.join(conn)
	}()

	select {
	case <-s.ctx.Done():
		s.leave(conn)
		s.detach()
		s.calls.Close()
		err := conn.Close("scope released")
		stopRead()
		<-readErr
		<-joinDone
		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()
		return nil

	case err := <-readErr:
		s.detach()
		_ = conn.Close("connection lost")
		s.calls.FailPending(rpc.ErrConnectionLost)
		<-joinDone
		if errors.Is(err, transport.ErrClosed) {
			s.log.Info("transport closed by remote", zap.Error(err))
			return nil
		}
		s.log.Warn("transport dropped", zap.Error(err))
		return err
	}
}

func (s *Session) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				s.log.Debug("skipping malformed frame", zap.Error(err))
				s.metrics.BroadcastDropped("unknown", "malformed")
				continue
			}
			return err
		}
		if env.IsReply() {
			s.calls.Resolve(env)
			continue
		}
		s.dispatch(env)
	}
}

// dispatch delivers a broadcast in transport order, on the read goroutine.
func (s *Session) dispatch(env types.Envelope) {
	if env.Scope != s.scope {
		s.metrics.BroadcastDropped(env.Type, "foreign_scope")
		return
	}

	s.mu.RLock()
	joined := s.status.State == StateJoined
	s.mu.RUnlock()
	if !joined {
		s.metrics.BroadcastDropped(env.Type, "not_joined")
		return
	}

	if env.Type == types.EvtScopeSettings {
		s.applySettings(env)
	}

	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners[env.Type]))
	for _, fn := range s.listeners[env.Type] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}

func (s *Session) send(ctx context.Context, env types.Envelope) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return rpc.ErrNotConnected
	}
	return conn.Send(ctx, env)
}

func (s *Session) detach() {
	s.mu.Lock()
	s.conn = nil
	s.joinInFlight = false
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.calls.Close()

	s.mu.Lock()
	s.torn = true
	clear(s.listeners)
	s.status.State = StateDisconnected
	s.status.Err = nil
	s.status.Since = time.Now()
	final := s.status
	for id, ch := range s.watchers {
		deliver(ch, final)
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	s.log.Info("session closed")
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	prev := s.setStateLocked(state, err)
	s.mu.Unlock()
	s.logTransition(prev, state, err)
}

func (s *Session) setStateLocked(state State, err error) State {
	prev := s.status.State
	s.status.State = state
	s.status.Err = err
	s.status.Since = time.Now()
	if state == StateConnected || state == StateJoined {
		s.status.Attempt = 0
	}
	s.notifyLocked()
	return prev
}

func (s *Session) logTransition(prev, state State, err error) {
	if prev != state {
		s.log.Info("state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(state)),
			zap.Error(err),
		)
	}
}

func (s *Session) setAttempt(n int) {
	s.mu.Lock()
	s.status.Attempt = n
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Session) notifyLocked() {
	for _, ch := range s.watchers {
		deliver(ch, s.status)
	}
}

// deliver replaces whatever status is buffered with st.
func deliver(ch chan Status, st Status) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
