package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExplorationGoal is an optional objective scoped to one session. The server
// sends the full object on every progress or completion message; the client
// replaces its copy wholesale and never merges fields.
type ExplorationGoal struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Type        string     `json:"type"` // "visit_rooms", "meet_npcs", "collect", ...
	Target      int        `json:"target"`
	Current     int        `json:"current"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GoalPreset is a static catalog entry used to seed an ExplorationGoal at
// session start. Presets are fetched once and never mutated by a session.
type GoalPreset struct {
	ID     uuid.UUID `json:"id"`
	Title  string    `json:"title"`
	Type   string    `json:"type"`
	Target int       `json:"target"`
}
