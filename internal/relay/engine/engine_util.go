package engine

import (
	"cmp"
	"slices"

	"github.com/DoyleJ11/livesync/pkg/types"
)

// Leaderboard ranks every scored user, highest first, and keeps the top n.
func Leaderboard(s State, n int) types.LeaderboardUpdate {
	entries := make([]types.LeaderboardEntry, 0, len(s.Scores))
	for _, e := range s.Scores {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b types.LeaderboardEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return types.LeaderboardUpdate{Entries: entries}
}

func findTeam(s State, cmd Command) (int, error) {
	if cmd.TeamID == "" || cmd.UserID == "" {
		return -1, ErrBadCommand
	}
	i := slices.IndexFunc(s.Teams, func(t types.Team) bool { return t.ID == cmd.TeamID })
	if i < 0 {
		return -1, ErrNoSuchTeam
	}
	return i, nil
}

func teamOf(s State, userID string) (int, bool) {
	for i, t := range s.Teams {
		if slices.Contains(t.Members, userID) {
			return i, true
		}
	}
	return -1, false
}

func teamScore(s State, t types.Team) int {
	total := 0
	for _, m := range t.Members {
		total += s.Scores[m].Score
	}
	return total
}

func cloneTeam(t types.Team) types.Team {
	t.Members = slices.Clone(t.Members)
	return t
}

func prepend[T any](list []T, item T, limit int) []T {
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

func ContainsEvent(events []Event, eventType string) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
