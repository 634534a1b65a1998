package reconcile

import (
	"cmp"
	"slices"
	"time"

	"github.com/DoyleJ11/livesync/pkg/types"
)

type Level string

const (
	LevelQuiet    Level = "quiet"
	LevelModerate Level = "moderate"
	LevelBusy     Level = "busy"
	LevelPacked   Level = "packed"
)

// LevelFor buckets an occupancy ratio.
func LevelFor(score float64) Level {
	switch {
	case score < 0.25:
		return LevelQuiet
	case score < 0.5:
		return LevelModerate
	case score < 0.8:
		return LevelBusy
	default:
		return LevelPacked
	}
}

type Zone struct {
	ID       string
	Name     string
	Count    int
	Capacity int
	Score    float64
	Level    Level
}

type Heatmap struct {
	Scope     string
	UpdatedAt time.Time
	Zones     []Zone
}

// NormalizeHeatmap checks the raw push and turns it into zones sorted by
// descending occupancy. Any missing field rejects the whole push.
func NormalizeHeatmap(up types.HeatmapUpdate) (Heatmap, error) {
	if up.Scope == "" {
		return Heatmap{}, invalid("heatmap without scope")
	}
	if up.UpdatedAt == "" {
		return Heatmap{}, invalid("heatmap without updatedAt")
	}
	at, err := time.Parse(time.RFC3339, up.UpdatedAt)
	if err != nil {
		return Heatmap{}, invalid("heatmap updatedAt %q", up.UpdatedAt)
	}
	if up.Zones == nil {
		return Heatmap{}, invalid("heatmap without zones")
	}

	zones := make([]Zone, 0, len(up.Zones))
	for id, z := range up.Zones {
		switch {
		case z.Name == "":
			return Heatmap{}, invalid("zone %s without name", id)
		case z.Count == nil || *z.Count < 0:
			return Heatmap{}, invalid("zone %s without count", id)
		case z.Capacity == nil || *z.Capacity <= 0:
			return Heatmap{}, invalid("zone %s without capacity", id)
		}
		score := float64(*z.Count) / float64(*z.Capacity)
		zones = append(zones, Zone{
			ID:       id,
			Name:     z.Name,
			Count:    *z.Count,
			Capacity: *z.Capacity,
			Score:    score,
			Level:    LevelFor(score),
		})
	}
	slices.SortFunc(zones, func(a, b Zone) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return Heatmap{Scope: up.Scope, UpdatedAt: at, Zones: zones}, nil
}
