package mutation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/livesync/internal/rpc"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// server applies each idempotency key once and can be told to swallow replies.
type server struct {
	mu       sync.Mutex
	applied  map[string]types.Reply
	effects  int
	sends    int
	dropNext bool
}

func newServer() *server { return &server{applied: map[string]types.Reply{}} }

func (s *server) Call(ctx context.Context, event string, payload any, timeout time.Duration) (types.Reply, error) {
	raw := payload.(json.RawMessage)
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return types.Reply{}, err
	}
	key, _ := fields[types.IdempotencyField].(string)

	s.mu.Lock()
	s.sends++
	r, seen := s.applied[key]
	if !seen {
		s.effects++
		data, _ := json.Marshal(types.Team{ID: "t1", Name: fields["name"].(string)})
		r = types.Reply{Success: true, Data: data}
		s.applied[key] = r
	}
	drop := s.dropNext
	s.dropNext = false
	s.mu.Unlock()

	if drop {
		return types.Reply{}, rpc.ErrTimeout
	}
	return r, nil
}

func TestGuard_RetryWithSameKeyAppliesOnce(t *testing.T) {
	srv := newServer()
	srv.dropNext = true
	g := NewGuard(srv)

	m := New(types.EvtTeamCreate, types.TeamCommand{Name: "Rocket", UserID: "u1"})
	_, err := g.Do(context.Background(), m)
	require.ErrorIs(t, err, rpc.ErrTimeout)

	r, err := g.Do(context.Background(), m)
	require.NoError(t, err)

	var team types.Team
	require.NoError(t, r.DecodeData(&team))
	assert.Equal(t, "Rocket", team.Name)
	assert.Equal(t, 1, srv.effects)
	assert.Equal(t, 2, srv.sends)
}

func TestGuard_ConfirmedKeyAnsweredLocally(t *testing.T) {
	srv := newServer()
	g := NewGuard(srv)

	m := New(types.EvtTeamCreate, types.TeamCommand{Name: "Rocket", UserID: "u1"})
	_, err := g.Do(context.Background(), m)
	require.NoError(t, err)
	_, err = g.Do(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.sends)
	assert.Equal(t, 1, srv.effects)
}

func TestGuard_DistinctIntentsGetDistinctKeys(t *testing.T) {
	srv := newServer()
	g := NewGuard(srv)

	a := New(types.EvtTeamCreate, types.TeamCommand{Name: "Rocket"})
	b := New(types.EvtTeamCreate, types.TeamCommand{Name: "Rocket"})
	require.NotEqual(t, a.Key, b.Key)

	_, err := g.Do(context.Background(), a)
	require.NoError(t, err)
	_, err = g.Do(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.effects)
}

func TestGuard_MissingKey(t *testing.T) {
	g := NewGuard(newServer())
	_, err := g.Do(context.Background(), Mutation{Event: types.EvtTeamLeave})
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestWithKey(t *testing.T) {
	raw, err := WithKey(types.TeamCommand{TeamID: "t1", UserID: "u1"}, "k-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"teamId":"t1","userId":"u1","idempotencyKey":"k-1"}`, string(raw))

	raw, err = WithKey(nil, "k-2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"idempotencyKey":"k-2"}`, string(raw))

	_, err = WithKey([]string{"not", "an", "object"}, "k-3")
	assert.ErrorIs(t, err, ErrNotObject)
}
