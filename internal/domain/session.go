package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the client-side lifecycle state of an exploration session.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusConnecting SessionStatus = "connecting"
	StatusActive     SessionStatus = "active"
	StatusEnded      SessionStatus = "ended"
	StatusError      SessionStatus = "error"
)

// ValidTransition checks if a session status transition is allowed.
// Allowed: idle->connecting, connecting->active, connecting->error,
// active->ended, active->error, and a restart from either terminal
// state (ended->connecting, error->connecting).
func (s SessionStatus) ValidTransition(to SessionStatus) bool {
	switch s {
	case StatusIdle:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusActive || to == StatusError
	case StatusActive:
		return to == StatusEnded || to == StatusError
	case StatusEnded, StatusError:
		return to == StatusConnecting
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions
// short of a fresh session start.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusError
}

// Session is one exploration run against the Wonderland engine. The server
// sends the full object as the channel snapshot; the client mutates its copy
// only through the event reducer.
type Session struct {
	ID              uuid.UUID        `json:"id"`
	UserID          uuid.UUID        `json:"user_id"`
	AgentID         string           `json:"agent_id,omitempty"`
	AgentName       string           `json:"agent_name"`
	Status          string           `json:"status"` // "active" or "ended"
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	EndReason       string           `json:"end_reason,omitempty"`
	Events          []SessionEvent   `json:"events"`
	VisitedRooms    []string         `json:"visited_rooms"`
	CurrentRoomID   string           `json:"current_room_id,omitempty"`
	CurrentRoomName string           `json:"current_room_name,omitempty"`
	Goal            *ExplorationGoal `json:"goal,omitempty"`
}
