package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/livesync/internal/relay/engine"
	"github.com/DoyleJ11/livesync/internal/relay/hub"
	"github.com/DoyleJ11/livesync/internal/relay/store"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, store.NewMemory(), nil)
	srv := httptest.NewServer(Handler(h, Options{}))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, scope string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?scope=" + scope
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer token"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id, event string, payload any) {
	t.Helper()
	env, err := types.NewEnvelope(event, "expo", payload)
	require.NoError(t, err)
	env.ID = id
	data, err := types.Marshal(env)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func read(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, types.Unmarshal(data, &env))
	return env
}

func TestHandler_RequiresCredentialAndScope(t *testing.T) {
	_, srv := newRelay(t)

	resp, err := http.Get(srv.URL + "/?scope=expo")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	req.Header.Set("Authorization", "Bearer token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_JoinAndCreateTeam(t *testing.T) {
	_, srv := newRelay(t)
	a := dial(t, srv, "expo")
	b := dial(t, srv, "expo")

	send(t, a, "j1", types.EvtScopeJoin, types.JoinRequest{Scope: "expo"})
	env := read(t, a)
	assert.Equal(t, "j1", env.ReplyTo)

	send(t, b, "j2", types.EvtScopeJoin, types.JoinRequest{Scope: "expo"})
	_ = read(t, b)

	send(t, a, "r1", types.EvtTeamCreate, map[string]string{"name": "Rocket", "userId": "u1", "idempotencyKey": "k1"})
	reply := read(t, a)
	require.Equal(t, "r1", reply.ReplyTo)
	var r types.Reply
	require.NoError(t, reply.Decode(&r))
	require.True(t, r.Success, r.Error)

	bcast := read(t, b)
	assert.Equal(t, types.EvtTeamCreated, bcast.Type)
	assert.Equal(t, "expo", bcast.Scope)
}

func TestHandler_UnknownCallIsAnswered(t *testing.T) {
	_, srv := newRelay(t)
	a := dial(t, srv, "expo")
	send(t, a, "j1", types.EvtScopeJoin, types.JoinRequest{Scope: "expo"})
	_ = read(t, a)

	send(t, a, "r1", "team.dance", map[string]string{"userId": "u1"})
	var r types.Reply
	require.NoError(t, read(t, a).Decode(&r))
	assert.False(t, r.Success)
	assert.Equal(t, engine.ErrUnsupportedCommand.Error(), r.Error)
}

func TestHandler_RemovedScopeClosesNormally(t *testing.T) {
	h, srv := newRelay(t)
	a := dial(t, srv, "expo")
	send(t, a, "j1", types.EvtScopeJoin, types.JoinRequest{Scope: "expo"})
	_ = read(t, a)

	reply := make(chan bool, 1)
	h.Inbox() <- hub.RemoveRoom{Scope: "expo", Reply: reply}
	require.True(t, <-reply)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := a.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestToEngineCommand(t *testing.T) {
	cases := []struct {
		name    string
		event   string
		payload any
		want    engine.Command
		key     string
		wantErr bool
	}{
		{
			name:    "join team",
			event:   types.EvtTeamJoin,
			payload: map[string]string{"teamId": "t1", "userId": "u1", "idempotencyKey": "k"},
			want:    engine.Command{Type: engine.CmdJoinTeam, TeamID: "t1", UserID: "u1"},
			key:     "k",
		},
		{
			name:    "capture lead",
			event:   types.EvtLeadCapture,
			payload: types.Lead{SponsorID: "s1", AttendeeID: "a1"},
			want:    engine.Command{Type: engine.CmdCaptureLead, UserID: "s1", Lead: types.Lead{SponsorID: "s1", AttendeeID: "a1"}},
		},
		{
			name:    "send chat",
			event:   types.EvtChatSend,
			payload: types.ChatMessage{SenderID: "u1", Text: "hi"},
			want:    engine.Command{Type: engine.CmdSendChat, UserID: "u1", Text: "hi"},
		},
		{
			name:    "view suggestion",
			event:   types.EvtSuggestionView,
			payload: types.ViewSuggestion{SuggestionID: "s1", UserID: "u1"},
			want:    engine.Command{Type: engine.CmdViewSuggestion, UserID: "u1", SuggestionID: "s1"},
		},
		{
			name:    "translate",
			event:   types.EvtSubtitleTranslate,
			payload: types.TranslateRequest{Text: "hello", Target: "fr"},
			want:    engine.Command{Type: engine.CmdTranslate, Text: "hello", Target: "fr"},
		},
		{name: "missing payload", event: types.EvtChatSend, wantErr: true},
		{name: "unknown", event: "team.dance", payload: map[string]string{}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := types.NewEnvelope(tc.event, "expo", tc.payload)
			require.NoError(t, err)
			if tc.payload == nil {
				env.Payload = nil
			}
			cmd, key, err := toEngineCommand(env)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cmd)
			assert.Equal(t, tc.key, key)
		})
	}
}
