package session

import (
	"context"
	"errors"

	"github.com/DoyleJ11/livesync/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoScope       = errors.New("scope id is required")
	ErrNoCredential  = errors.New("credential is required")
	ErrManagerClosed = errors.New("session manager is shut down")
)

type managerMsg interface{ isManagerMsg() }

type acquireMsg struct {
	scope      string
	credential string
	reply      chan *Handle
}

type releaseMsg struct {
	handle *Handle
	done   chan struct{}
}

type inspectMsg struct {
	reply chan map[string]int
}

type shutdownMsg struct {
	reply chan error
}

func (acquireMsg) isManagerMsg()  {}
func (releaseMsg) isManagerMsg()  {}
func (inspectMsg) isManagerMsg()  {}
func (shutdownMsg) isManagerMsg() {}

type entry struct {
	session *Session
	refs    map[uint64]struct{}
}

// Manager is the composition root's registry of scope sessions. One
// goroutine owns the table, so acquire and release are serialized and a
// scope never has two live sessions: the last release closes the session
// before the next message is handled.
type Manager struct {
	dialer transport.Dialer
	opts   Options
	log    *zap.Logger

	inbox    chan managerMsg
	sessions map[string]*entry
	nextRef  uint64
	done     chan struct{}
}

func NewManager(dialer transport.Dialer, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		dialer:   dialer,
		opts:     opts,
		log:      opts.Logger.With(zap.String("module", "session_manager")),
		inbox:    make(chan managerMsg, 64),
		sessions: make(map[string]*entry),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

// Acquire returns a handle on the session for scope, creating it when no
// live session exists. Later acquires share the session and ignore their
// credential.
func (m *Manager) Acquire(ctx context.Context, scope, credential string) (*Handle, error) {
	if scope == "" {
		return nil, ErrNoScope
	}
	if credential == "" {
		return nil, ErrNoCredential
	}

	reply := make(chan *Handle, 1)
	if err := m.post(ctx, acquireMsg{scope: scope, credential: credential, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case h := <-reply:
		if h == nil {
			return nil, ErrManagerClosed
		}
		return h, nil
	case <-m.done:
		return nil, ErrManagerClosed
	case <-ctx.Done():
		// The registry may still hand us a handle; give it straight back.
		go func() {
			select {
			case h := <-reply:
				if h != nil {
					h.Release()
				}
			case <-m.done:
			}
		}()
		return nil, ctx.Err()
	}
}

// Live reports the reference count of every open scope.
func (m *Manager) Live() map[string]int {
	reply := make(chan map[string]int, 1)
	if err := m.post(context.Background(), inspectMsg{reply: reply}); err != nil {
		return map[string]int{}
	}
	select {
	case live := <-reply:
		return live
	case <-m.done:
		return map[string]int{}
	}
}

// Shutdown closes every session regardless of outstanding handles.
func (m *Manager) Shutdown() error {
	reply := make(chan error, 1)
	if err := m.post(context.Background(), shutdownMsg{reply: reply}); err != nil {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return nil
	}
}

func (m *Manager) post(ctx context.Context, msg managerMsg) error {
	select {
	case <-m.done:
		return ErrManagerClosed
	default:
	}
	select {
	case m.inbox <- msg:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for msg := range m.inbox {
		switch msg := msg.(type) {
		case acquireMsg:
			e := m.sessions[msg.scope]
			if e == nil {
				e = &entry{
					session: newSession(msg.scope, msg.credential, m.dialer, m.opts),
					refs:    make(map[uint64]struct{}),
				}
				m.sessions[msg.scope] = e
				m.log.Info("scope opened", zap.String("scope", msg.scope))
			}
			m.nextRef++
			e.refs[m.nextRef] = struct{}{}
			msg.reply <- &Handle{ref: m.nextRef, session: e.session, m: m}

		case releaseMsg:
			scope := msg.handle.session.scope
			e := m.sessions[scope]
			if e != nil && e.session == msg.handle.session {
				delete(e.refs, msg.handle.ref)
				if len(e.refs) == 0 {
					delete(m.sessions, scope)
					if err := e.session.Close(); err != nil {
						m.log.Debug("close transport", zap.String("scope", scope), zap.Error(err))
					}
					m.log.Info("scope closed", zap.String("scope", scope))
				}
			}
			close(msg.done)

		case inspectMsg:
			live := make(map[string]int, len(m.sessions))
			for scope, e := range m.sessions {
				live[scope] = len(e.refs)
			}
			msg.reply <- live

		case shutdownMsg:
			var err error
			for scope, e := range m.sessions {
				err = multierr.Append(err, e.session.Close())
				delete(m.sessions, scope)
			}
			msg.reply <- err
			m.drain()
			return
		}
	}
}

// drain answers anything queued behind a shutdown so no caller blocks.
func (m *Manager) drain() {
	for {
		select {
		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case acquireMsg:
				msg.reply <- nil
			case releaseMsg:
				close(msg.done)
			case inspectMsg:
				msg.reply <- map[string]int{}
			case shutdownMsg:
				msg.reply <- nil
			}
		default:
			return
		}
	}
}
