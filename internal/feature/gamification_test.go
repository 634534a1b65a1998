package feature

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/DoyleJ11/livesync/internal/mutation"
	"github.com/DoyleJ11/livesync/internal/rpc"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teamServer applies each idempotency key once and broadcasts the result.
type teamServer struct {
	t  *testing.T
	ch *fakeChannel

	mu        sync.Mutex
	applied   map[string]types.Team
	created   int
	swallowed bool
}

func newTeamServer(t *testing.T, ch *fakeChannel) *teamServer {
	s := &teamServer{t: t, ch: ch, applied: map[string]types.Team{}}
	ch.setHandler(s.handle)
	return s
}

func (s *teamServer) handle(ctx context.Context, event string, payload any) (types.Reply, error) {
	fields := payloadFields(s.t, payload)
	key, _ := fields[types.IdempotencyField].(string)

	s.mu.Lock()
	team, seen := s.applied[key]
	fresh := !seen
	if fresh {
		s.created++
		name, _ := fields["name"].(string)
		user, _ := fields["userId"].(string)
		team = types.Team{ID: "t1", Name: name, CaptainID: user, Members: []string{user}}
		s.applied[key] = team
	}
	swallow := !s.swallowed
	s.swallowed = true
	s.mu.Unlock()

	if fresh {
		s.ch.emit(s.t, types.EvtTeamCreated, team)
	}
	if swallow {
		return types.Reply{}, rpc.ErrTimeout
	}
	return dataReply(s.t, team), nil
}

func TestGamification_CreateTeamRetryReflectsOneTeam(t *testing.T) {
	ch := newFakeChannel("expo")
	srv := newTeamServer(t, ch)
	g := NewGamification(ch, Options{UserID: "u1"})
	defer g.Close()

	key := mutation.NewKey()
	_, err := g.CreateTeam(context.Background(), key, "Rocket")
	require.ErrorIs(t, err, rpc.ErrTimeout)

	team, err := g.CreateTeam(context.Background(), key, "Rocket")
	require.NoError(t, err)
	assert.Equal(t, "t1", team.ID)

	snap := g.Snapshot()
	require.Len(t, snap.Teams.List, 1)
	assert.Equal(t, "Rocket", snap.Teams.List[0].Name)
	require.NotNil(t, snap.Teams.Current)
	assert.Equal(t, "t1", snap.Teams.Current.ID)
	assert.Equal(t, 1, srv.created)
	assert.Equal(t, 2, ch.callCount(types.EvtTeamCreate))
}

func TestGamification_ConfirmedKeyIsNotResent(t *testing.T) {
	ch := newFakeChannel("expo")
	srv := newTeamServer(t, ch)
	srv.swallowed = true
	g := NewGamification(ch, Options{UserID: "u1"})
	defer g.Close()

	key := mutation.NewKey()
	_, err := g.CreateTeam(context.Background(), key, "Rocket")
	require.NoError(t, err)
	_, err = g.CreateTeam(context.Background(), key, "Rocket")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.callCount(types.EvtTeamCreate))
}

func TestGamification_Validation(t *testing.T) {
	g := NewGamification(newFakeChannel("expo"), Options{UserID: "u1"})
	defer g.Close()

	_, err := g.CreateTeam(context.Background(), "k", "")
	assert.ErrorIs(t, err, ErrNoTeam)
	_, err = g.JoinTeam(context.Background(), "k", "")
	assert.ErrorIs(t, err, ErrNoTeam)
	_, err = g.CreateTeam(context.Background(), "", "Rocket")
	assert.ErrorIs(t, err, mutation.ErrMissingKey)
}

func TestGamification_JoinAndLeaveUpdateCurrentTeam(t *testing.T) {
	ch := newFakeChannel("expo")
	ch.setHandler(func(ctx context.Context, event string, payload any) (types.Reply, error) {
		team := types.Team{ID: "t1", Name: "Rocket", Members: []string{"u2"}}
		if event == types.EvtTeamJoin {
			team.Members = append(team.Members, "u1")
		}
		return dataReply(t, team), nil
	})
	g := NewGamification(ch, Options{UserID: "u1"})
	defer g.Close()

	_, err := g.JoinTeam(context.Background(), mutation.NewKey(), "t1")
	require.NoError(t, err)
	require.NotNil(t, g.Snapshot().Teams.Current)

	_, err = g.LeaveTeam(context.Background(), mutation.NewKey(), "t1")
	require.NoError(t, err)
	assert.Nil(t, g.Snapshot().Teams.Current)
	assert.Len(t, g.Snapshot().Teams.List, 1)
}

func TestGamification_Broadcasts(t *testing.T) {
	ch := newFakeChannel("expo")
	g := NewGamification(ch, Options{UserID: "me", LeaderboardSize: 2})
	defer g.Close()

	changes := 0
	g.OnChange(func() { changes++ })

	ch.emit(t, types.EvtLeaderboardUpdated, types.LeaderboardUpdate{Entries: []types.LeaderboardEntry{
		{UserID: "a", Score: 9}, {UserID: "b", Score: 5}, {UserID: "me", Score: 1},
	}})
	snap := g.Snapshot()
	assert.Len(t, snap.Leaderboard.Entries, 2)
	require.NotNil(t, snap.Leaderboard.Mine)
	assert.Equal(t, 3, snap.Leaderboard.Mine.Rank)

	team := types.Team{ID: "t1", Name: "Rocket"}
	ch.emit(t, types.EvtTeamCreated, team)
	ch.emit(t, types.EvtTeamCreated, team)
	team.Score = 40
	ch.emit(t, types.EvtTeamUpdated, team)
	require.Len(t, g.Snapshot().Teams.List, 1)
	assert.Equal(t, 40, g.Snapshot().Teams.List[0].Score)

	ch.emit(t, types.EvtTeamDeleted, types.Team{ID: "t1"})
	assert.Empty(t, g.Snapshot().Teams.List)

	before := g.Snapshot()
	ch.emitRaw(t, types.EvtLeaderboardUpdated, `{"entries":[{"name":"no user"}]}`)
	ch.emitRaw(t, types.EvtTeamCreated, `{"name":"no id"}`)
	assert.Equal(t, before, g.Snapshot())
	assert.Equal(t, 5, changes)
}

func TestGamification_CloseUnsubscribes(t *testing.T) {
	ch := newFakeChannel("expo")
	g := NewGamification(ch, Options{})
	require.Equal(t, 4, ch.subscribers())
	g.Close()
	g.Close()
	assert.Zero(t, ch.subscribers())

	_, err := g.CreateTeam(context.Background(), "k", "Rocket")
	assert.ErrorIs(t, err, ErrFeatureClosed)
}

func TestGamification_TeamListIsBounded(t *testing.T) {
	ch := newFakeChannel("expo")
	g := NewGamification(ch, Options{UserID: "me", ListLimit: 5})
	defer g.Close()

	ch.emit(t, types.EvtTeamCreated, types.Team{ID: "mine", Name: "Mine", Members: []string{"me"}})
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("t%d", i)
		ch.emit(t, types.EvtTeamCreated, types.Team{ID: id, Name: id})
	}

	snap := g.Snapshot()
	assert.Len(t, snap.Teams.List, 5)
	require.NotNil(t, snap.Teams.Current)
	assert.Equal(t, "mine", snap.Teams.Current.ID)
	assert.Equal(t, "t199", snap.Teams.List[4].ID)
}
