package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/DoyleJ11/livesync/internal/relay/engine"
	"github.com/DoyleJ11/livesync/internal/relay/hub"
	"github.com/DoyleJ11/livesync/internal/relay/room"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/go-chi/chi/v5"
)

const askTimeout = 2 * time.Second

// PointsRequest is the body of an operator points award.
type PointsRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListScopes(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		select {
		case h.Inbox() <- hub.ListRooms{Reply: reply}:
		case <-h.Done():
			http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
			return
		}
		scopes := <-reply
		sort.Strings(scopes)
		writeJSON(w, http.StatusOK, struct {
			Scopes []string `json:"scopes"`
		}{Scopes: scopes})
	}
}

func GetScope(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := h.Get(r.Context(), chi.URLParam(r, "scope"))
		if rm == nil {
			http.Error(w, "scope not found", http.StatusNotFound)
			return
		}
		reply := make(chan room.View, 1)
		if err := post(r.Context(), rm, room.GetState{Reply: reply}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, v)
		case <-rm.Done():
			http.Error(w, "scope closed", http.StatusServiceUnavailable)
		}
	}
}

// Broadcast pushes a server event, such as a heatmap or suggestion, to a scope.
func Broadcast(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env types.Envelope
		if err := types.JSON.NewDecoder(r.Body).Decode(&env); err != nil || env.Type == "" {
			http.Error(w, "bad envelope", http.StatusBadRequest)
			return
		}
		rm := h.Ensure(r.Context(), chi.URLParam(r, "scope"))
		if rm == nil {
			http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
			return
		}
		reply := make(chan error, 1)
		if err := ask(r.Context(), rm, room.Publish{Env: env, Reply: reply}, reply); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func AwardPoints(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PointsRequest
		if err := types.JSON.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rm := h.Ensure(r.Context(), chi.URLParam(r, "scope"))
		if rm == nil {
			http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
			return
		}
		cmd := engine.Command{Type: engine.CmdAwardPoints, UserID: req.UserID, Name: req.Name, Points: req.Points}
		reply := make(chan error, 1)
		if err := ask(r.Context(), rm, room.Apply{Cmd: cmd, Reply: reply}, reply); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// CloseScope stops a room; its members are disconnected without reconnecting.
func CloseScope(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan bool, 1)
		select {
		case h.Inbox() <- hub.RemoveRoom{Scope: chi.URLParam(r, "scope"), Reply: reply}:
		case <-h.Done():
			http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
			return
		}
		if !<-reply {
			http.Error(w, "scope not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

var errRoomClosed = errors.New("scope closed")

func post(ctx context.Context, rm *room.Room, msg room.Msg) error {
	select {
	case rm.Inbox() <- msg:
		return nil
	case <-rm.Done():
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ask(ctx context.Context, rm *room.Room, msg room.Msg, reply chan error) error {
	ctx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()
	if err := post(ctx, rm, msg); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-rm.Done():
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrBadCommand), errors.Is(err, engine.ErrUnsupportedCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errRoomClosed), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = types.JSON.NewEncoder(w).Encode(v)
}
