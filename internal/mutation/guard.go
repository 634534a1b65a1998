package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/livesync/internal/cache"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingKey = errors.New("mutation has no idempotency key")
	ErrNotObject  = errors.New("mutation payload must encode to a JSON object")
)

const (
	DefaultTimeout = 30 * time.Second
	// confirmed results kept per guard
	defaultRemembered = 256
)

// Caller is the correlated call surface a guard wraps.
type Caller interface {
	Call(ctx context.Context, event string, payload any, timeout time.Duration) (types.Reply, error)
}

// Mutation is one logical state change. Its Key is minted once by New and
// must be reused verbatim when the caller retries the same intent.
type Mutation struct {
	Event   string
	Payload any
	Key     string
}

func New(event string, payload any) Mutation {
	return Mutation{Event: event, Payload: payload, Key: NewKey()}
}

// NewKey mints an idempotency key for one logical attempt.
func NewKey() string { return uuid.NewString() }

// Guard stamps mutations with their idempotency key. It does not retry on
// its own: a caller that retries hands back the same Mutation.
type Guard struct {
	caller  Caller
	timeout time.Duration
	log     *zap.Logger
	results *cache.Loader[types.Reply]
}

type Option func(*Guard)

func WithTimeout(d time.Duration) Option { return func(g *Guard) { g.timeout = d } }

func WithLogger(log *zap.Logger) Option { return func(g *Guard) { g.log = log } }

func NewGuard(caller Caller, opts ...Option) *Guard {
	g := &Guard{
		caller:  caller,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
		results: cache.NewLoader[types.Reply](defaultRemembered),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do sends m. A key whose earlier attempt was confirmed is answered from
// memory; a key with an attempt still in flight joins that attempt.
func (g *Guard) Do(ctx context.Context, m Mutation) (types.Reply, error) {
	if m.Key == "" {
		return types.Reply{}, ErrMissingKey
	}
	payload, err := WithKey(m.Payload, m.Key)
	if err != nil {
		return types.Reply{}, fmt.Errorf("%s: %w", m.Event, err)
	}

	reply, shared, err := g.results.Load(ctx, cache.Key(m.Event, m.Key), func(ctx context.Context) (types.Reply, error) {
		return g.caller.Call(ctx, m.Event, payload, g.timeout)
	})
	if err != nil {
		return types.Reply{}, err
	}
	if shared {
		g.log.Debug("mutation answered without a new send",
			zap.String("event", m.Event),
			zap.String("idempotency_key", m.Key),
		)
	}
	return reply, nil
}

// WithKey re-encodes payload as a JSON object carrying key under
// types.IdempotencyField. A nil payload becomes {"idempotencyKey": key}.
func WithKey(payload any, key string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := types.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if string(raw) != "null" {
			if err := types.Unmarshal(raw, &fields); err != nil {
				return nil, ErrNotObject
			}
		}
	}

	k, err := types.Marshal(key)
	if err != nil {
		return nil, err
	}
	fields[types.IdempotencyField] = k
	return types.Marshal(fields)
}
