package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/DoyleJ11/livesync/pkg/types"
)

// ErrDropped is what a PipeConn reports after Drop: an abnormal loss.
var ErrDropped = errors.New("connection dropped")

const pipeBuffer = 64

type pipeState struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (p *pipeState) shut(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// PipeConn is one end of an in-memory connection.
type PipeConn struct {
	in    <-chan types.Envelope
	out   chan<- types.Envelope
	state *pipeState
}

// Pipe returns two connected ends. Closing either end closes both.
func Pipe() (*PipeConn, *PipeConn) {
	ab := make(chan types.Envelope, pipeBuffer)
	ba := make(chan types.Envelope, pipeBuffer)
	st := &pipeState{done: make(chan struct{})}
	return &PipeConn{in: ba, out: ab, state: st}, &PipeConn{in: ab, out: ba, state: st}
}

func (p *PipeConn) Send(ctx context.Context, env types.Envelope) error {
	select {
	case <-p.state.done:
		return p.state.err
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.state.done:
		return p.state.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv drains frames already queued before reporting a close.
func (p *PipeConn) Recv(ctx context.Context) (types.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	default:
	}
	select {
	case env := <-p.in:
		return env, nil
	case <-p.state.done:
		return types.Envelope{}, p.state.err
	case <-ctx.Done():
		return types.Envelope{}, ctx.Err()
	}
}

func (p *PipeConn) Close(string) error {
	p.state.shut(ErrClosed)
	return nil
}

// Drop ends the connection as if the network failed.
func (p *PipeConn) Drop() { p.state.shut(ErrDropped) }

// Closed is done once either end closed or dropped.
func (p *PipeConn) Closed() <-chan struct{} { return p.state.done }
