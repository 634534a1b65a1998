package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/DoyleJ11/livesync/internal/metrics"
	"github.com/DoyleJ11/livesync/internal/relay/engine"
	"github.com/DoyleJ11/livesync/internal/relay/hub"
	"github.com/DoyleJ11/livesync/internal/relay/room"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Authenticator accepts or refuses a bearer credential.
type Authenticator func(credential string) bool

// AnyCredential accepts every non-empty credential.
func AnyCredential(credential string) bool { return credential != "" }

type Options struct {
	Auth    Authenticator
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// OriginPatterns loosens the same-origin check, e.g. for local dev.
	OriginPatterns []string
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Auth == nil {
		opts.Auth = AnyCredential
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.With(zap.String("module", "ws"))

	return func(w http.ResponseWriter, r *http.Request) {
		if !opts.Auth(bearer(r)) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			http.Error(w, "missing scope", http.StatusBadRequest)
			return
		}

		rm := h.Ensure(r.Context(), scope)
		if rm == nil {
			http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		opts.Metrics.ConnectionOpened()
		defer opts.Metrics.ConnectionClosed()

		out := make(chan types.Envelope, 32)
		clientID := uuid.NewString()
		log := log.With(zap.String("scope", scope), zap.String("client_id", clientID))
		log.Debug("client connected")

		post := func(msg room.Msg) bool {
			select {
			case rm.Inbox() <- msg:
				return true
			case <-rm.Done():
				return false
			case <-r.Context().Done():
				return false
			}
		}
		defer func() {
			select {
			case rm.Inbox() <- room.Leave{ClientID: clientID}:
			case <-rm.Done():
			}
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case env, ok := <-out:
					if !ok {
						// The room dropped us: closed scope or slow reader.
						select {
						case <-rm.Done():
							conn.Close(websocket.StatusNormalClosure, "scope closed")
						default:
							conn.Close(websocket.StatusTryAgainLater, "too slow")
						}
						return
					}
					payload, err := types.Marshal(env)
					if err != nil {
						log.Error("encode frame", zap.Error(err))
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						return
					}
				case <-rm.Done():
					conn.Close(websocket.StatusNormalClosure, "scope closed")
					return
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client closed")
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}

			var env types.Envelope
			if err := types.Unmarshal(data, &env); err != nil || env.Type == "" {
				log.Debug("ignoring malformed frame")
				continue
			}

			var msg room.Msg
			switch env.Type {
			case types.EvtScopeJoin:
				msg = room.Join{ClientID: clientID, Request: env, Outbox: out}
			case types.EvtScopeLeave:
				msg = room.Leave{ClientID: clientID}
			default:
				cmd, key, err := toEngineCommand(env)
				msg = room.FromClient{ClientID: clientID, Request: env, Cmd: cmd, Key: key, Err: err, Outbox: out}
			}
			if !post(msg) {
				return
			}
		}
	}
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(v, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

var errNoPayload = errors.New("payload is required")

// toEngineCommand maps a client call onto an engine command and pulls out
// its idempotency key.
func toEngineCommand(env types.Envelope) (engine.Command, string, error) {
	if len(env.Payload) == 0 {
		return engine.Command{}, "", errNoPayload
	}
	var meta struct {
		Key string `json:"idempotencyKey"`
	}
	if err := env.Decode(&meta); err != nil {
		return engine.Command{}, "", err
	}

	switch env.Type {
	case types.EvtTeamCreate, types.EvtTeamJoin, types.EvtTeamLeave:
		var tc types.TeamCommand
		if err := env.Decode(&tc); err != nil {
			return engine.Command{}, "", err
		}
		cmd := engine.Command{UserID: tc.UserID, Name: tc.Name, TeamID: tc.TeamID}
		switch env.Type {
		case types.EvtTeamCreate:
			cmd.Type = engine.CmdCreateTeam
		case types.EvtTeamJoin:
			cmd.Type = engine.CmdJoinTeam
		default:
			cmd.Type = engine.CmdLeaveTeam
		}
		return cmd, meta.Key, nil

	case types.EvtLeadCapture:
		var lead types.Lead
		if err := env.Decode(&lead); err != nil {
			return engine.Command{}, "", err
		}
		return engine.Command{Type: engine.CmdCaptureLead, UserID: lead.SponsorID, Lead: lead}, meta.Key, nil

	case types.EvtChatSend:
		var msg types.ChatMessage
		if err := env.Decode(&msg); err != nil {
			return engine.Command{}, "", err
		}
		return engine.Command{Type: engine.CmdSendChat, UserID: msg.SenderID, Text: msg.Text}, meta.Key, nil

	case types.EvtSuggestionView:
		var v types.ViewSuggestion
		if err := env.Decode(&v); err != nil {
			return engine.Command{}, "", err
		}
		return engine.Command{Type: engine.CmdViewSuggestion, UserID: v.UserID, SuggestionID: v.SuggestionID}, meta.Key, nil

	case types.EvtSubtitleTranslate:
		var tr types.TranslateRequest
		if err := env.Decode(&tr); err != nil {
			return engine.Command{}, "", err
		}
		return engine.Command{Type: engine.CmdTranslate, Text: tr.Text, Target: tr.Target}, meta.Key, nil

	default:
		return engine.Command{}, "", engine.ErrUnsupportedCommand
	}
}
