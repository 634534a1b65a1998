package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/coder/websocket"
)

const defaultReadLimit = 1 << 20

// WSDialer dials the relay over websocket. The credential travels as a
// bearer token and the scope as a query parameter.
type WSDialer struct {
	URL        string
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WSDialer) Dial(ctx context.Context, scope, credential string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("scope", scope)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	c, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, env types.Envelope) error {
	data, err := types.Marshal(env)
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Recv(ctx context.Context) (types.Envelope, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return types.Envelope{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return types.Envelope{}, err
	}

	var env types.Envelope
	if err := types.Unmarshal(data, &env); err != nil {
		return types.Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return types.Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
