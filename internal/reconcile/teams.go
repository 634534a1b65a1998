package reconcile

import (
	"slices"

	"github.com/DoyleJ11/livesync/pkg/types"
)

type Teams struct {
	List []types.Team
	// Current is the team the local user belongs to, if any.
	Current *types.Team
}

func ValidateTeam(t types.Team) error {
	switch {
	case t.ID == "":
		return invalid("team without id")
	case t.Name == "":
		return invalid("team %s without name", t.ID)
	}
	for _, m := range t.Members {
		if m == "" {
			return invalid("team %s has an empty member id", t.ID)
		}
	}
	return nil
}

// ApplyTeam replaces the team with the same id or appends an unknown one,
// then recomputes the local user's current team. Past limit the oldest
// teams are dropped, never the current one.
func ApplyTeam(state Teams, t types.Team, userID string, limit int) (Teams, error) {
	if err := ValidateTeam(t); err != nil {
		return state, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	list := slices.Clone(state.List)
	if i := slices.IndexFunc(list, func(x types.Team) bool { return x.ID == t.ID }); i >= 0 {
		list[i] = t
	} else {
		list = append(list, t)
	}

	current := CurrentTeam(list, userID)
	for excess := len(list) - limit; excess > 0; excess-- {
		i := 0
		if current != nil && list[0].ID == current.ID {
			i = 1
		}
		list = slices.Delete(list, i, i+1)
	}
	return Teams{List: list, Current: current}, nil
}

func RemoveTeam(state Teams, teamID, userID string) (Teams, error) {
	if teamID == "" {
		return state, invalid("team delete without id")
	}
	list := Remove(state.List, teamID, TeamID)
	return Teams{List: list, Current: CurrentTeam(list, userID)}, nil
}

// CurrentTeam scans membership for userID.
func CurrentTeam(list []types.Team, userID string) *types.Team {
	if userID == "" {
		return nil
	}
	for i := range list {
		if slices.Contains(list[i].Members, userID) {
			t := list[i]
			return &t
		}
	}
	return nil
}
