package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a single entry in the session event log.
type EventType string

const (
	EventArrival             EventType = "arrival"
	EventMovement            EventType = "movement"
	EventObservation         EventType = "observation"
	EventSpeech              EventType = "speech"
	EventReflection          EventType = "reflection"
	EventNPCEncounter        EventType = "npc_encounter"
	EventExpression          EventType = "expression"
	EventTravelStart         EventType = "travel_start"
	EventTravelThrough       EventType = "travel_through"
	EventDeparture           EventType = "departure"
	EventGoalCompleted       EventType = "goal_completed"
	EventConversationStart   EventType = "conversation_start"
	EventConversationMessage EventType = "conversation_message"
	EventConversationEnd     EventType = "conversation_end"
)

// SessionEvent is an immutable record of something that happened during
// exploration. The log is append-only and ordered by arrival on the channel,
// not by timestamp; the client never re-sorts it.
type SessionEvent struct {
	ID           uuid.UUID `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	LocationID   string    `json:"location_id,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
	Description  string    `json:"description"`
	RawOutput    string    `json:"raw_output,omitempty"`
	Thought      string    `json:"thought,omitempty"` // internal agent annotation
}
