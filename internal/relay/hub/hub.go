package hub

import (
	"context"

	"github.com/DoyleJ11/livesync/internal/relay/room"
	"github.com/DoyleJ11/livesync/internal/relay/store"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	Scope string
	Reply chan *room.Room
}

// EnsureRoom returns the scope's room, creating it on first use.
type EnsureRoom struct {
	Scope string
	Reply chan *room.Room
}

// RemoveRoom shuts the scope's room down; its clients are disconnected.
type RemoveRoom struct {
	Scope string
	Reply chan bool
}

type ListRooms struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	store  store.Store
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, st store.Store, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		store:  st,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after shutdown.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

// Ensure is the EnsureRoom round trip; it returns nil once the hub is down.
func (h *Hub) Ensure(ctx context.Context, scope string) *room.Room {
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, EnsureRoom{Scope: scope, Reply: reply}, reply)
}

// Get is the GetRoom round trip; nil means no such room.
func (h *Hub) Get(ctx context.Context, scope string) *room.Room {
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, GetRoom{Scope: scope, Reply: reply}, reply)
}

func (h *Hub) ask(ctx context.Context, msg HubMsg, reply chan *room.Room) *room.Room {
	select {
	case h.inbox <- msg:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- h.rooms[msg.Scope] // May be nil

			case EnsureRoom:
				if r := h.rooms[msg.Scope]; r != nil {
					msg.Reply <- r
					break
				}
				r := room.New(h.ctx, msg.Scope, h.store, h.log)
				h.rooms[msg.Scope] = r
				h.log.Info("room opened", zap.String("scope", msg.Scope))
				msg.Reply <- r

			case RemoveRoom:
				r := h.rooms[msg.Scope]
				if r != nil {
					r.Inbox() <- room.Shutdown{}
					delete(h.rooms, msg.Scope)
					h.log.Info("room closed", zap.String("scope", msg.Scope))
				}
				msg.Reply <- r != nil

			case ListRooms:
				scopes := make([]string, 0, len(h.rooms))
				for scope := range h.rooms {
					scopes = append(scopes, scope)
				}
				msg.Reply <- scopes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		select {
		case r.Inbox() <- room.Shutdown{}:
		case <-r.Done():
		}
	}
	clear(h.rooms)
	h.cancel()
}
