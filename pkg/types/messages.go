package types

import "encoding/json"

// Scope lifecycle events.
const (
	EvtScopeJoin     = "scope.join"
	EvtScopeLeave    = "scope.leave"
	EvtScopeSettings = "scope.settings"
)

// Feature events. Verbs are client calls, past tense names are broadcasts.
const (
	EvtLeaderboardUpdated = "leaderboard.updated"

	EvtTeamCreate  = "team.create"
	EvtTeamJoin    = "team.join"
	EvtTeamLeave   = "team.leave"
	EvtTeamCreated = "team.created"
	EvtTeamUpdated = "team.updated"
	EvtTeamDeleted = "team.deleted"

	EvtHeatmapUpdated = "heatmap.updated"

	EvtSuggestion     = "networking.suggestion"
	EvtSuggestionView = "networking.view"

	EvtLeadCapture  = "lead.capture"
	EvtLeadCaptured = "lead.captured"

	EvtChatSend    = "chat.send"
	EvtChatMessage = "chat.message"

	EvtSubtitleLine      = "subtitle.line"
	EvtSubtitleTranslate = "subtitle.translate"
)

// IdempotencyField is the payload key carrying a mutation's idempotency token.
const IdempotencyField = "idempotencyKey"

// Envelope is the single frame shape exchanged over the transport.
//
// Calls set ID; replies echo it in ReplyTo; broadcasts carry only Scope.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Scope   string          `json:"scope,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Envelope) IsReply() bool { return e.ReplyTo != "" }

// Reply is the payload of every reply envelope.
type Reply struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Settings *Settings       `json:"settings,omitempty"`
}

type JoinRequest struct {
	Scope string `json:"scope"`
}

// Settings are the server-authoritative feature switches for a scope.
type Settings struct {
	ChatOpen      bool `json:"chatOpen"`
	PollsOpen     bool `json:"pollsOpen"`
	ReactionsOpen bool `json:"reactionsOpen"`
	QAOpen        bool `json:"qaOpen"`
}

func DefaultSettings() Settings {
	return Settings{ChatOpen: true, PollsOpen: true, ReactionsOpen: true, QAOpen: true}
}
