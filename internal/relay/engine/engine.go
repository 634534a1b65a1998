package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/livesync/pkg/types"
)

var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrBadCommand = errors.New("malformed command")
var ErrTeamExists = errors.New("team name already taken")
var ErrNoSuchTeam = errors.New("team not found")
var ErrAlreadyOnTeam = errors.New("user already on a team")
var ErrNotOnTeam = errors.New("user is not on this team")
var ErrChatClosed = errors.New("chat is closed")

const (
	LeaderboardSize = 10
	chatHistory     = 100
	leadHistory     = 500
)

type State struct {
	Scope    string
	Settings types.Settings
	Teams    []types.Team
	Scores   map[string]types.LeaderboardEntry
	Leads    []types.Lead
	Chat     []types.ChatMessage
}

type CommandType string

const (
	CmdCreateTeam     CommandType = "CreateTeam"
	CmdJoinTeam       CommandType = "JoinTeam"
	CmdLeaveTeam      CommandType = "LeaveTeam"
	CmdAwardPoints    CommandType = "AwardPoints"
	CmdCaptureLead    CommandType = "CaptureLead"
	CmdSendChat       CommandType = "SendChat"
	CmdUpdateSettings CommandType = "UpdateSettings"
	CmdViewSuggestion CommandType = "ViewSuggestion"
	CmdTranslate      CommandType = "Translate"
)

/*
	CmdCreateTeam     -> team.created
	CmdJoinTeam       -> team.updated
	CmdLeaveTeam      -> team.updated, or team.deleted when the last member leaves
	CmdAwardPoints    -> leaderboard.updated -> team.updated (if the user is on a team)
	CmdCaptureLead    -> lead.captured (private when the attendee was already captured)
	CmdSendChat       -> chat.message
	CmdUpdateSettings -> scope.settings
	CmdViewSuggestion -> private ack
	CmdTranslate      -> private result
*/

// Command is a parsed client or operator request. ID and At are stamped by
// the room so Apply stays deterministic.
type Command struct {
	Type     CommandType
	ID       string
	At       time.Time
	UserID   string
	Name     string
	TeamID   string
	Points   int
	Text     string
	Target   string
	Lead     types.Lead
	Settings types.Settings
	// SuggestionID is set for CmdViewSuggestion.
	SuggestionID string
}

// Event is one outcome of a command. Private events only answer the caller;
// the rest are broadcast to the scope.
type Event struct {
	Type    string
	Payload any
	Private bool
}

func NewState(scope string) State {
	return State{
		Scope:    scope,
		Settings: types.DefaultSettings(),
		Scores:   map[string]types.LeaderboardEntry{},
	}
}

// ReplyData is what the caller gets back for a command's events.
func ReplyData(events []Event) any {
	if len(events) == 0 {
		return nil
	}
	return events[0].Payload
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdCreateTeam:
		name := strings.TrimSpace(cmd.Name)
		if name == "" || cmd.UserID == "" {
			return nil, s, fmt.Errorf("%w: team name and user are required", ErrBadCommand)
		}
		if slices.ContainsFunc(s.Teams, func(t types.Team) bool { return strings.EqualFold(t.Name, name) }) {
			return nil, s, ErrTeamExists
		}
		if _, on := teamOf(s, cmd.UserID); on {
			return nil, s, ErrAlreadyOnTeam
		}

		team := types.Team{
			ID:        cmd.ID,
			Name:      name,
			CaptainID: cmd.UserID,
			Members:   []string{cmd.UserID},
		}
		team.Score = teamScore(s, team)
		newState.Teams = append(slices.Clone(s.Teams), team)
		return []Event{{Type: types.EvtTeamCreated, Payload: team}}, newState, nil

	case CmdJoinTeam:
		i, err := findTeam(s, cmd)
		if err != nil {
			return nil, s, err
		}
		if _, on := teamOf(s, cmd.UserID); on {
			return nil, s, ErrAlreadyOnTeam
		}

		team := cloneTeam(s.Teams[i])
		team.Members = append(team.Members, cmd.UserID)
		team.Score = teamScore(s, team)
		newState.Teams = slices.Clone(s.Teams)
		newState.Teams[i] = team
		return []Event{{Type: types.EvtTeamUpdated, Payload: team}}, newState, nil

	case CmdLeaveTeam:
		i, err := findTeam(s, cmd)
		if err != nil {
			return nil, s, err
		}
		team := cloneTeam(s.Teams[i])
		at := slices.Index(team.Members, cmd.UserID)
		if at < 0 {
			return nil, s, ErrNotOnTeam
		}
		team.Members = slices.Delete(team.Members, at, at+1)

		if len(team.Members) == 0 {
			newState.Teams = slices.Delete(slices.Clone(s.Teams), i, i+1)
			return []Event{{Type: types.EvtTeamDeleted, Payload: team}}, newState, nil
		}
		if team.CaptainID == cmd.UserID {
			team.CaptainID = team.Members[0]
		}
		team.Score = teamScore(s, team)
		newState.Teams = slices.Clone(s.Teams)
		newState.Teams[i] = team
		return []Event{{Type: types.EvtTeamUpdated, Payload: team}}, newState, nil

	case CmdAwardPoints:
		if cmd.UserID == "" || cmd.Points == 0 {
			return nil, s, fmt.Errorf("%w: user and non-zero points are required", ErrBadCommand)
		}
		newState.Scores = make(map[string]types.LeaderboardEntry, len(s.Scores)+1)
		for k, v := range s.Scores {
			newState.Scores[k] = v
		}
		entry := newState.Scores[cmd.UserID]
		entry.UserID = cmd.UserID
		if cmd.Name != "" {
			entry.Name = cmd.Name
		}
		entry.Score += cmd.Points
		newState.Scores[cmd.UserID] = entry

		events := []Event{{Type: types.EvtLeaderboardUpdated, Payload: Leaderboard(newState, LeaderboardSize)}}
		if i, on := teamOf(newState, cmd.UserID); on {
			team := cloneTeam(newState.Teams[i])
			team.Score = teamScore(newState, team)
			newState.Teams = slices.Clone(newState.Teams)
			newState.Teams[i] = team
			events = append(events, Event{Type: types.EvtTeamUpdated, Payload: team})
		}
		return events, newState, nil

	case CmdCaptureLead:
		lead := cmd.Lead
		if lead.SponsorID == "" {
			lead.SponsorID = cmd.UserID
		}
		if lead.AttendeeID == "" || lead.SponsorID == "" {
			return nil, s, fmt.Errorf("%w: sponsor and attendee are required", ErrBadCommand)
		}
		for _, l := range s.Leads {
			if l.SponsorID == lead.SponsorID && l.AttendeeID == lead.AttendeeID {
				return []Event{{Type: types.EvtLeadCaptured, Payload: l, Private: true}}, s, nil
			}
		}
		lead.ID = cmd.ID
		lead.CapturedAt = cmd.At
		newState.Leads = prepend(s.Leads, lead, leadHistory)
		return []Event{{Type: types.EvtLeadCaptured, Payload: lead}}, newState, nil

	case CmdSendChat:
		if !s.Settings.ChatOpen {
			return nil, s, ErrChatClosed
		}
		text := strings.TrimSpace(cmd.Text)
		if text == "" || cmd.UserID == "" {
			return nil, s, fmt.Errorf("%w: sender and text are required", ErrBadCommand)
		}
		msg := types.ChatMessage{
			ID:         cmd.ID,
			SenderID:   cmd.UserID,
			SenderName: s.Scores[cmd.UserID].Name,
			Text:       text,
			SentAt:     cmd.At,
		}
		newState.Chat = prepend(s.Chat, msg, chatHistory)
		return []Event{{Type: types.EvtChatMessage, Payload: msg}}, newState, nil

	case CmdUpdateSettings:
		newState.Settings = cmd.Settings
		return []Event{{Type: types.EvtScopeSettings, Payload: cmd.Settings}}, newState, nil

	case CmdViewSuggestion:
		if cmd.SuggestionID == "" {
			return nil, s, fmt.Errorf("%w: suggestion id is required", ErrBadCommand)
		}
		ack := types.ViewSuggestion{SuggestionID: cmd.SuggestionID, UserID: cmd.UserID}
		return []Event{{Type: types.EvtSuggestionView, Payload: ack, Private: true}}, s, nil

	case CmdTranslate:
		if cmd.Text == "" || cmd.Target == "" {
			return nil, s, fmt.Errorf("%w: text and target are required", ErrBadCommand)
		}
		res := types.TranslateResult{Translated: "[" + cmd.Target + "] " + cmd.Text, Target: cmd.Target}
		return []Event{{Type: types.EvtSubtitleTranslate, Payload: res, Private: true}}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}
