package types

import "time"

type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Rank   int    `json:"rank"`
}

type LeaderboardUpdate struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type Team struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CaptainID string   `json:"captainId"`
	Members   []string `json:"members"`
	Score     int      `json:"score"`
}

// TeamCommand is the payload of team.create, team.join and team.leave.
type TeamCommand struct {
	Name   string `json:"name,omitempty"`
	TeamID string `json:"teamId,omitempty"`
	UserID string `json:"userId"`
}

// HeatmapUpdate is the raw zone activity push. Count and Capacity are
// pointers so a missing field can be told apart from zero.
type HeatmapUpdate struct {
	Scope     string                  `json:"scope"`
	UpdatedAt string                  `json:"updatedAt"`
	Zones     map[string]ZoneActivity `json:"zones"`
}

type ZoneActivity struct {
	Name     string `json:"name"`
	Count    *int   `json:"count"`
	Capacity *int   `json:"capacity"`
}

type Suggestion struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
	Viewed    bool      `json:"viewed"`
}

type ViewSuggestion struct {
	SuggestionID string `json:"suggestionId"`
	UserID       string `json:"userId"`
}

type Lead struct {
	ID         string    `json:"id"`
	SponsorID  string    `json:"sponsorId"`
	AttendeeID string    `json:"attendeeId"`
	Name       string    `json:"name"`
	Note       string    `json:"note,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

type SubtitleLine struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	Lang string    `json:"lang"`
	At   time.Time `json:"at"`
}

type TranslateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

type TranslateResult struct {
	Translated string `json:"translated"`
	Target     string `json:"target"`
}
