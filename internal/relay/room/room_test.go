package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/livesync/internal/relay/engine"
	"github.com/DoyleJ11/livesync/internal/relay/store"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: receive one envelope with a timeout so tests never hang
func recvEnvelope(t *testing.T, ch <-chan types.Envelope, within time.Duration) types.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return env
	case <-time.After(within):
		t.Fatalf("timed out waiting for envelope")
		return types.Envelope{} // unreachable
	}
}

func recvNoEnvelope(t *testing.T, ch <-chan types.Envelope, within time.Duration) {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no envelope within %v, but got: %+v", within, env)
	case <-time.After(within):
	}
}

func recvView(t *testing.T, r *Room) View {
	t.Helper()
	reply := make(chan View, 1)
	r.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func replyOf(t *testing.T, env types.Envelope) types.Reply {
	t.Helper()
	require.True(t, env.IsReply(), "want a reply, got %s", env.Type)
	var r types.Reply
	require.NoError(t, env.Decode(&r))
	return r
}

func request(t *testing.T, id, event string, payload any) types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(event, "expo", payload)
	require.NoError(t, err)
	env.ID = id
	return env
}

func newRoom(t *testing.T) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := New(ctx, "expo", store.NewMemory(), nil)
	ids := 0
	r.newID = func() string {
		ids++
		return "id-" + string(rune('0'+ids))
	}
	return r
}

func joinClient(t *testing.T, r *Room, clientID string, buf int) chan types.Envelope {
	t.Helper()
	out := make(chan types.Envelope, buf)
	r.Inbox() <- Join{ClientID: clientID, Request: request(t, "join-"+clientID, types.EvtScopeJoin, types.JoinRequest{Scope: "expo"}), Outbox: out}
	reply := replyOf(t, recvEnvelope(t, out, time.Second))
	require.True(t, reply.Success)
	require.NotNil(t, reply.Settings)
	return out
}

func TestRoom_JoinRepliesWithSettings(t *testing.T) {
	r := newRoom(t)
	out := make(chan types.Envelope, 2)
	r.Inbox() <- Join{ClientID: "c1", Request: request(t, "j1", types.EvtScopeJoin, types.JoinRequest{Scope: "expo"}), Outbox: out}

	env := recvEnvelope(t, out, time.Second)
	assert.Equal(t, "j1", env.ReplyTo)
	reply := replyOf(t, env)
	assert.True(t, reply.Success)
	assert.Equal(t, types.DefaultSettings(), *reply.Settings)
	assert.Equal(t, 1, recvView(t, r).NumClients)
}

func TestRoom_JoinForOtherScopeIsRejected(t *testing.T) {
	r := newRoom(t)
	out := make(chan types.Envelope, 2)
	r.Inbox() <- Join{ClientID: "c1", Request: request(t, "j1", types.EvtScopeJoin, types.JoinRequest{Scope: "other"}), Outbox: out}

	reply := replyOf(t, recvEnvelope(t, out, time.Second))
	assert.False(t, reply.Success)
	assert.Equal(t, 0, recvView(t, r).NumClients)
}

func TestRoom_CommandBeforeJoinIsRejected(t *testing.T) {
	r := newRoom(t)
	out := make(chan types.Envelope, 2)
	r.Inbox() <- FromClient{
		ClientID: "c1",
		Request:  request(t, "r1", types.EvtTeamCreate, nil),
		Cmd:      engine.Command{Type: engine.CmdCreateTeam, UserID: "u1", Name: "Rocket"},
		Outbox:   out,
	}
	reply := replyOf(t, recvEnvelope(t, out, time.Second))
	assert.False(t, reply.Success)
	assert.Equal(t, "scope not joined", reply.Error)
}

func TestRoom_CommandRepliesThenBroadcasts(t *testing.T) {
	r := newRoom(t)
	a := joinClient(t, r, "a", 4)
	b := joinClient(t, r, "b", 4)

	r.Inbox() <- FromClient{
		ClientID: "a",
		Request:  request(t, "r1", types.EvtTeamCreate, nil),
		Cmd:      engine.Command{Type: engine.CmdCreateTeam, UserID: "u1", Name: "Rocket"},
		Key:      "k1",
		Outbox:   a,
	}

	reply := replyOf(t, recvEnvelope(t, a, time.Second))
	require.True(t, reply.Success)
	var team types.Team
	require.NoError(t, reply.DecodeData(&team))
	assert.Equal(t, "Rocket", team.Name)

	assert.Equal(t, types.EvtTeamCreated, recvEnvelope(t, a, time.Second).Type)
	bcast := recvEnvelope(t, b, time.Second)
	assert.Equal(t, types.EvtTeamCreated, bcast.Type)
	assert.Equal(t, "expo", bcast.Scope)
	assert.False(t, bcast.IsReply())
}

func TestRoom_RepeatedKeyIsAnsweredNotApplied(t *testing.T) {
	r := newRoom(t)
	a := joinClient(t, r, "a", 8)
	b := joinClient(t, r, "b", 8)

	for _, id := range []string{"r1", "r2"} {
		r.Inbox() <- FromClient{
			ClientID: "a",
			Request:  request(t, id, types.EvtTeamCreate, nil),
			Cmd:      engine.Command{Type: engine.CmdCreateTeam, UserID: "u1", Name: "Rocket"},
			Key:      "k1",
			Outbox:   a,
		}
	}

	first := replyOf(t, recvEnvelope(t, a, time.Second))
	_ = recvEnvelope(t, a, time.Second) // team.created
	second := replyOf(t, recvEnvelope(t, a, time.Second))
	assert.True(t, second.Success)
	assert.JSONEq(t, string(first.Data), string(second.Data))

	assert.Equal(t, types.EvtTeamCreated, recvEnvelope(t, b, time.Second).Type)
	recvNoEnvelope(t, b, 50*time.Millisecond)
	assert.Len(t, recvView(t, r).Teams, 1)
}

func TestRoom_RejectedCommandReportsError(t *testing.T) {
	r := newRoom(t)
	a := joinClient(t, r, "a", 4)

	r.Inbox() <- FromClient{ClientID: "a", Request: request(t, "r1", "team.dance", nil), Err: engine.ErrUnsupportedCommand, Outbox: a}
	reply := replyOf(t, recvEnvelope(t, a, time.Second))
	assert.False(t, reply.Success)
	assert.Equal(t, engine.ErrUnsupportedCommand.Error(), reply.Error)

	r.Inbox() <- FromClient{
		ClientID: "a",
		Request:  request(t, "r2", types.EvtTeamJoin, nil),
		Cmd:      engine.Command{Type: engine.CmdJoinTeam, UserID: "u1", TeamID: "nope"},
		Outbox:   a,
	}
	reply = replyOf(t, recvEnvelope(t, a, time.Second))
	assert.Equal(t, engine.ErrNoSuchTeam.Error(), reply.Error)
}

func TestRoom_PublishSettingsUpdatesState(t *testing.T) {
	r := newRoom(t)
	a := joinClient(t, r, "a", 4)

	closed := types.DefaultSettings()
	closed.ChatOpen = false
	env, err := types.NewEnvelope(types.EvtScopeSettings, "", closed)
	require.NoError(t, err)

	done := make(chan error, 1)
	r.Inbox() <- Publish{Env: env, Reply: done}
	require.NoError(t, <-done)

	got := recvEnvelope(t, a, time.Second)
	assert.Equal(t, types.EvtScopeSettings, got.Type)
	assert.Equal(t, "expo", got.Scope)
	assert.False(t, recvView(t, r).Settings.ChatOpen)
}

func TestRoom_ApplyOperatorCommand(t *testing.T) {
	r := newRoom(t)
	a := joinClient(t, r, "a", 4)

	done := make(chan error, 1)
	r.Inbox() <- Apply{Cmd: engine.Command{Type: engine.CmdAwardPoints, UserID: "u1", Points: 5}, Reply: done}
	require.NoError(t, <-done)
	assert.Equal(t, types.EvtLeaderboardUpdated, recvEnvelope(t, a, time.Second).Type)

	r.Inbox() <- Apply{Cmd: engine.Command{Type: engine.CmdAwardPoints}, Reply: done}
	assert.True(t, errors.Is(<-done, engine.ErrBadCommand))
}

func TestRoom_DropSlowClient(t *testing.T) {
	r := newRoom(t)
	slow := joinClient(t, r, "slow", 1)

	for i := 0; i < 2; i++ {
		env, _ := types.NewEnvelope(types.EvtHeatmapUpdated, "", types.HeatmapUpdate{})
		done := make(chan error, 1)
		r.Inbox() <- Publish{Env: env, Reply: done}
		<-done
	}

	assert.Equal(t, 0, recvView(t, r).NumClients)
	_ = recvEnvelope(t, slow, time.Second)
	_, open := <-slow
	assert.False(t, open)
}

func TestRoom_ShutdownClosesOutboxes(t *testing.T) {
	r := newRoom(t)
	a := joinClient(t, r, "a", 2)

	r.Inbox() <- Shutdown{}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("room did not stop")
	}
	_, open := <-a
	assert.False(t, open)
}

func TestRoom_DroppedClientIsIgnoredUntilLeave(t *testing.T) {
	r := newRoom(t)
	slow := joinClient(t, r, "slow", 1)

	for i := 0; i < 2; i++ {
		env, _ := types.NewEnvelope(types.EvtHeatmapUpdated, "", types.HeatmapUpdate{})
		done := make(chan error, 1)
		r.Inbox() <- Publish{Env: env, Reply: done}
		<-done
	}

	// Requests racing the connection teardown must not touch the closed outbox.
	r.Inbox() <- FromClient{ClientID: "slow", Request: request(t, "r1", types.EvtChatSend, nil), Cmd: engine.Command{Type: engine.CmdSendChat, UserID: "u1", Text: "hi"}, Outbox: slow}
	r.Inbox() <- Join{ClientID: "slow", Request: request(t, "j2", types.EvtScopeJoin, types.JoinRequest{Scope: "expo"}), Outbox: slow}
	assert.Equal(t, 0, recvView(t, r).NumClients)

	r.Inbox() <- Leave{ClientID: "slow"}
	out := joinClient(t, r, "slow", 2)
	assert.NotNil(t, out)
	assert.Equal(t, 1, recvView(t, r).NumClients)
}
