// Package reconcile merges validated broadcasts into feature view state.
// Every function here is pure: it returns the next state or an error and
// never mutates its input, so a rejected payload leaves state untouched.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/livesync/pkg/types"
)

var ErrInvalid = errors.New("invalid payload")

// List bounds used when a feature does not set its own.
const (
	DefaultListLimit   = 50
	DefaultLeaderboard = 10
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Upsert replaces the entry with item's id in place or prepends item, then
// truncates to limit. A limit of zero or less means DefaultListLimit.
func Upsert[T any](list []T, item T, id func(T) string, limit int) []T {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	key := id(item)
	for i := range list {
		if id(list[i]) == key {
			out := make([]T, len(list))
			copy(out, list)
			out[i] = item
			return out
		}
	}

	out := make([]T, 0, min(len(list)+1, limit))
	out = append(out, item)
	for _, v := range list {
		if len(out) == limit {
			break
		}
		out = append(out, v)
	}
	return out
}

// UpsertAll applies a newest-first batch so the newest item ends up first.
func UpsertAll[T any](list []T, batch []T, id func(T) string, limit int) []T {
	for i := len(batch) - 1; i >= 0; i-- {
		list = Upsert(list, batch[i], id, limit)
	}
	return list
}

// Remove drops the entry with the given id, if any.
func Remove[T any](list []T, key string, id func(T) string) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if id(v) != key {
			out = append(out, v)
		}
	}
	return out
}

func LeadID(l types.Lead) string { return l.ID }
func ChatID(m types.ChatMessage) string { return m.ID }
func SuggestionID(s types.Suggestion) string { return s.ID }
func SubtitleID(l types.SubtitleLine) string { return l.ID }
func TeamID(t types.Team) string { return t.ID }

func ValidateLead(l types.Lead) error {
	switch {
	case l.ID == "":
		return invalid("lead without id")
	case l.AttendeeID == "":
		return invalid("lead %s without attendee", l.ID)
	}
	return nil
}

func ValidateChat(m types.ChatMessage) error {
	switch {
	case m.ID == "":
		return invalid("chat message without id")
	case m.SenderID == "":
		return invalid("chat message %s without sender", m.ID)
	}
	return nil
}

func ValidateSuggestion(s types.Suggestion) error {
	switch {
	case s.ID == "":
		return invalid("suggestion without id")
	case s.UserID == "":
		return invalid("suggestion %s without user", s.ID)
	}
	return nil
}

func ValidateSubtitle(l types.SubtitleLine) error {
	if l.ID == "" || l.Text == "" {
		return invalid("subtitle line without id or text")
	}
	return nil
}
