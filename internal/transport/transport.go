package transport

import (
	"context"
	"errors"

	"github.com/DoyleJ11/livesync/pkg/types"
)

var (
	// ErrClosed marks an explicit close by either side. Anything else ending
	// Recv is a drop.
	ErrClosed = errors.New("transport closed")
	// ErrUnauthorized is returned by Dial when the credential is refused.
	ErrUnauthorized = errors.New("credential rejected")
	// ErrMalformed wraps a frame that could not be decoded; the connection is still usable.
	ErrMalformed = errors.New("malformed frame")
)

// Conn is one live bidirectional connection.
type Conn interface {
	Send(ctx context.Context, env types.Envelope) error
	Recv(ctx context.Context) (types.Envelope, error)
	Close(reason string) error
}

// Dialer opens a Conn for scope, presenting credential at connect time.
type Dialer interface {
	Dial(ctx context.Context, scope, credential string) (Conn, error)
}

type DialerFunc func(ctx context.Context, scope, credential string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, scope, credential string) (Conn, error) {
	return f(ctx, scope, credential)
}
