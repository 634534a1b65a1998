package reconcile

import "github.com/DoyleJ11/livesync/pkg/types"

type Leaderboard struct {
	Entries []types.LeaderboardEntry
	// Mine is the local user's entry, nil when they are not ranked.
	Mine *types.LeaderboardEntry
}

// ApplyLeaderboard replaces the board with the snapshot. Entries without a
// rank are ranked by position.
func ApplyLeaderboard(up types.LeaderboardUpdate, userID string, limit int) (Leaderboard, error) {
	if up.Entries == nil {
		return Leaderboard{}, invalid("leaderboard without entries")
	}
	if limit <= 0 {
		limit = DefaultLeaderboard
	}

	seen := make(map[string]bool, len(up.Entries))
	entries := make([]types.LeaderboardEntry, 0, min(len(up.Entries), limit))
	for i, e := range up.Entries {
		if e.UserID == "" {
			return Leaderboard{}, invalid("leaderboard entry %d without user", i)
		}
		if seen[e.UserID] {
			return Leaderboard{}, invalid("leaderboard lists %s twice", e.UserID)
		}
		seen[e.UserID] = true
		if e.Rank == 0 {
			e.Rank = i + 1
		}
		if len(entries) < limit {
			entries = append(entries, e)
		}
	}

	board := Leaderboard{Entries: entries}
	for _, e := range up.Entries {
		if e.UserID == userID {
			mine := e
			if mine.Rank == 0 {
				mine.Rank = rankOf(up.Entries, userID)
			}
			board.Mine = &mine
			break
		}
	}
	return board, nil
}

func rankOf(entries []types.LeaderboardEntry, userID string) int {
	for i, e := range entries {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}
