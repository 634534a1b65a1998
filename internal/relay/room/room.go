package room

import (
	"context"
	"time"

	"github.com/DoyleJ11/livesync/internal/relay/engine"
	"github.com/DoyleJ11/livesync/internal/relay/store"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Msg interface{ isRoomMsg() }

// Join makes a connection a member of the scope and answers its join request.
type Join struct {
	ClientID string
	Request  types.Envelope
	Outbox   chan types.Envelope // where this client wants to receive envelopes
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

// FromClient is a parsed client request. Err carries a parse failure,
// answered like any other rejection.
type FromClient struct {
	ClientID string
	Request  types.Envelope
	Cmd      engine.Command
	Key      string
	Err      error
	Outbox   chan types.Envelope
}

func (FromClient) isRoomMsg() {}

// Apply runs an operator command, such as awarding points.
type Apply struct {
	Cmd   engine.Command
	Reply chan error
}

func (Apply) isRoomMsg() {}

// Publish pushes a server-originated broadcast to every member.
type Publish struct {
	Env   types.Envelope
	Reply chan error
}

func (Publish) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type View struct {
	Scope       string                  `json:"scope"`
	Version     int                     `json:"version"`
	NumClients  int                     `json:"numClients"`
	Settings    types.Settings          `json:"settings"`
	Teams       []types.Team            `json:"teams"`
	Leaderboard types.LeaderboardUpdate `json:"leaderboard"`
	Leads       int                     `json:"leads"`
	Messages    int                     `json:"messages"`
}

type Room struct {
	scope   string
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan types.Envelope
	dropped map[string]struct{} // outbox already closed by the room
	store   store.Store
	log     *zap.Logger
	newID   func() string
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, scope string, st store.Store, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}

	r := &Room{
		scope:   scope,
		inbox:   make(chan Msg, 64),
		state:   engine.NewState(scope),
		clients: make(map[string]chan types.Envelope),
		dropped: make(map[string]struct{}),
		store:   st,
		log:     log.With(zap.String("module", "room"), zap.String("scope", scope)),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
	}

	go r.loop()
	return r
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)

			case Leave:
				delete(r.clients, msg.ClientID)
				delete(r.dropped, msg.ClientID)

			case FromClient:
				r.handle(msg)

			case Apply:
				msg.Reply <- r.apply(msg.Cmd)

			case Publish:
				msg.Reply <- r.publish(msg.Env)

			case GetState:
				msg.Reply <- View{
					Scope:       r.scope,
					Version:     r.version,
					NumClients:  len(r.clients),
					Settings:    r.state.Settings,
					Teams:       r.state.Teams,
					Leaderboard: engine.Leaderboard(r.state, engine.LeaderboardSize),
					Leads:       len(r.state.Leads),
					Messages:    len(r.state.Chat),
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) join(msg Join) {
	if _, gone := r.dropped[msg.ClientID]; gone {
		return
	}
	var req types.JoinRequest
	if err := msg.Request.Decode(&req); err == nil && req.Scope != "" && req.Scope != r.scope {
		r.reply(msg.Outbox, msg.Request, types.Reply{Success: false, Error: "scope mismatch"})
		return
	}

	r.clients[msg.ClientID] = msg.Outbox
	settings := r.state.Settings
	r.reply(msg.Outbox, msg.Request, types.Reply{Success: true, Settings: &settings})
	r.log.Debug("client joined", zap.String("client_id", msg.ClientID), zap.Int("clients", len(r.clients)))
}

func (r *Room) handle(msg FromClient) {
	if _, gone := r.dropped[msg.ClientID]; gone {
		return
	}
	if _, joined := r.clients[msg.ClientID]; !joined {
		r.reply(msg.Outbox, msg.Request, types.Reply{Success: false, Error: "scope not joined"})
		return
	}
	if msg.Err != nil {
		r.reply(msg.Outbox, msg.Request, types.Reply{Success: false, Error: msg.Err.Error()})
		return
	}

	if msg.Key != "" {
		prior, ok, err := r.store.Lookup(r.ctx, r.scope, msg.Key)
		if err != nil {
			r.log.Warn("idempotency lookup failed", zap.String("key", msg.Key), zap.Error(err))
		}
		if ok {
			r.log.Debug("answering repeated request", zap.String("event", msg.Request.Type), zap.String("key", msg.Key))
			r.reply(msg.Outbox, msg.Request, prior)
			return
		}
	}

	cmd := msg.Cmd
	cmd.ID = r.newID()
	cmd.At = r.now()
	events, newState, err := engine.Apply(r.state, cmd)
	if err != nil {
		r.reply(msg.Outbox, msg.Request, types.Reply{Success: false, Error: err.Error()})
		return
	}
	r.state = newState
	r.version++

	reply := types.Reply{Success: true}
	if data := engine.ReplyData(events); data != nil {
		raw, err := types.Marshal(data)
		if err != nil {
			r.log.Error("encode reply data", zap.Error(err))
		} else {
			reply.Data = raw
		}
	}
	if msg.Key != "" {
		if err := r.store.Save(r.ctx, r.scope, msg.Key, msg.Request.Type, reply); err != nil {
			r.log.Warn("idempotency save failed", zap.String("key", msg.Key), zap.Error(err))
		}
	}

	r.reply(msg.Outbox, msg.Request, reply)
	r.broadcastEvents(events)
}

func (r *Room) apply(cmd engine.Command) error {
	cmd.ID = r.newID()
	cmd.At = r.now()
	events, newState, err := engine.Apply(r.state, cmd)
	if err != nil {
		return err
	}
	r.state = newState
	r.version++
	r.broadcastEvents(events)
	return nil
}

func (r *Room) publish(env types.Envelope) error {
	if env.Type == types.EvtScopeSettings {
		var settings types.Settings
		if err := env.Decode(&settings); err != nil {
			return err
		}
		return r.apply(engine.Command{Type: engine.CmdUpdateSettings, Settings: settings})
	}

	env.Scope = r.scope
	env.ID = ""
	env.ReplyTo = ""
	r.version++
	r.broadcast(env)
	return nil
}

func (r *Room) broadcastEvents(events []engine.Event) {
	for _, ev := range events {
		if ev.Private {
			continue
		}
		env, err := types.NewEnvelope(ev.Type, r.scope, ev.Payload)
		if err != nil {
			r.log.Error("encode broadcast", zap.String("event", ev.Type), zap.Error(err))
			continue
		}
		r.broadcast(env)
	}
}

func (r *Room) broadcast(env types.Envelope) {
	for id, ch := range r.clients {
		select {
		case ch <- env:
			//ok
		default:
			// Client is slow/full - drop them.
			r.log.Warn("dropping slow client", zap.String("client_id", id))
			close(ch)
			delete(r.clients, id)
			r.dropped[id] = struct{}{}
		}
	}
}

// reply answers one request; a full outbox loses the reply and the client
// times out.
func (r *Room) reply(out chan types.Envelope, req types.Envelope, reply types.Reply) {
	env, err := types.NewReply(req, reply)
	if err != nil {
		r.log.Error("encode reply", zap.Error(err))
		return
	}
	select {
	case out <- env:
	default:
		r.log.Warn("reply dropped", zap.String("event", req.Type))
	}
}

// shutdown marks the room done before closing outboxes so writers can tell
// a closed scope from a slow-client drop.
func (r *Room) shutdown() {
	r.cancel()
	for id, ch := range r.clients {
		close(ch) // Tell client no more envelopes
		delete(r.clients, id)
	}
}

// Inbox exposes the room to the ws layer and the HTTP API.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room stops accepting messages.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) Scope() string { return r.scope }
