package session

import (
	"context"
	"errors"

	"github.com/DoyleJ11/livesync/internal/rpc"
	"github.com/DoyleJ11/livesync/internal/transport"
	"github.com/DoyleJ11/livesync/pkg/types"
	"go.uber.org/zap"
)

// join performs the scope handshake on conn. Acceptance promotes the scope
// to joined; rejection or timeout leaves it connected with Err set and does
// not reconnect, since a new connection would get the same answer.
func (s *Session) join(conn transport.Conn) {
	reply, err := s.calls.Call(s.ctx, s.send, s.scope, types.EvtScopeJoin, types.JoinRequest{Scope: s.scope}, s.opts.JoinTimeout)

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.joinInFlight = false

	if err != nil {
		if errors.Is(err, rpc.ErrClosed) || errors.Is(err, rpc.ErrCanceled) || errors.Is(err, rpc.ErrConnectionLost) {
			s.mu.Unlock()
			return
		}
		prev := s.setStateLocked(StateConnected, err)
		s.mu.Unlock()
		s.log.Warn("join failed", zap.Error(err))
		s.logTransition(prev, StateConnected, err)
		return
	}

	if s.status.State != StateConnected {
		s.mu.Unlock()
		return
	}
	if reply.Settings != nil {
		s.status.Settings = *reply.Settings
	}
	prev := s.setStateLocked(StateJoined, nil)
	s.mu.Unlock()
	s.logTransition(prev, StateJoined, nil)
}

// leave emits the leave notice; it is best effort and bounded by LeaveTimeout.
func (s *Session) leave(conn transport.Conn) {
	env, err := types.NewEnvelope(types.EvtScopeLeave, s.scope, types.JoinRequest{Scope: s.scope})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.LeaveTimeout)
	defer cancel()
	if err := conn.Send(ctx, env); err != nil {
		s.log.Debug("leave notice not delivered", zap.Error(err))
	}
}

func (s *Session) applySettings(env types.Envelope) {
	var settings types.Settings
	if err := env.Decode(&settings); err != nil {
		s.metrics.BroadcastDropped(env.Type, "invalid")
		return
	}
	s.mu.Lock()
	s.status.Settings = settings
	s.notifyLocked()
	s.mu.Unlock()
}

// Settings returns the synchronized feature switches.
func (s *Session) Settings() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Settings
}
