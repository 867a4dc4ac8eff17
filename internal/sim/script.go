package sim

import (
	"time"

	"github.com/google/uuid"

	"github.com/quickthorn/lookingglass/internal/domain"
	"github.com/quickthorn/lookingglass/internal/protocol"
)

// Step is one scripted emission on the event channel.
type Step struct {
	// Delay before the step is sent. The server-level StepDelay config value
	// is used when zero and no per-step delay is wanted in tests.
	Delay   time.Duration
	Message protocol.Message
}

// Script is an ordered exploration timeline replayed to every session. Steps
// mutate the server-side session state as they are sent, so a reconnecting
// client receives a snapshot consistent with everything emitted so far.
type Script []Step

func event(t domain.EventType, locationID, locationName, description string) protocol.SessionEvent {
	return protocol.SessionEvent{Event: domain.SessionEvent{
		ID:           uuid.New(),
		Type:         t,
		Timestamp:    time.Now().UTC(),
		LocationID:   locationID,
		LocationName: locationName,
		Description:  description,
	}}
}

// DefaultScript is a short walk through Wonderland: arrival, a conversation
// with the Keeper of Thresholds, goal progress, and departure.
func DefaultScript(goal *domain.ExplorationGoal) Script {
	script := Script{
		{Message: event(domain.EventArrival, "threshold", "The Threshold", "The agent steps through the looking glass and arrives at the threshold.")},
		{Message: event(domain.EventObservation, "threshold", "The Threshold", "Mirrored doors stretch in every direction; one stands ajar.")},
		{Message: protocol.ConversationStart{NPCName: "Keeper", NPCTitle: "Keeper of Thresholds"}},
		{Message: protocol.ConversationMessage{Message: domain.ConversationMessage{
			Speaker: "Keeper",
			Content: "Few arrive here on purpose. What do you seek?",
		}}},
		{Message: protocol.ConversationMessage{Message: domain.ConversationMessage{
			Speaker: "agent",
			Content: "Whatever lies beyond the ajar door.",
			IsAgent: true,
			Thought: "The open door is the only asymmetry in this room.",
		}}},
		{Message: protocol.ConversationEnd{NPCName: "Keeper"}},
		{Message: event(domain.EventTravelStart, "threshold", "The Threshold", "The agent sets off through the ajar door.")},
		{Message: event(domain.EventTravelThrough, "hall_of_moments", "Hall of Moments", "Clocks line the walls, each keeping a different hour.")},
		{Message: event(domain.EventMovement, "clockwork_garden", "The Clockwork Garden", "The agent enters a garden of ticking brass flowers.")},
	}

	if goal != nil {
		progressed := *goal
		progressed.Current = minInt(goal.Current+2, goal.Target)
		script = append(script, Step{Message: protocol.GoalProgress{Goal: progressed}})

		if progressed.Current >= progressed.Target {
			now := time.Now().UTC()
			completed := progressed
			completed.IsCompleted = true
			completed.CompletedAt = &now
			script = append(script,
				Step{Message: event(domain.EventGoalCompleted, "clockwork_garden", "The Clockwork Garden", "Goal complete: "+goal.Title)},
				Step{Message: protocol.GoalCompleted{Goal: completed}},
			)
		}
	}

	script = append(script,
		Step{Message: event(domain.EventReflection, "clockwork_garden", "The Clockwork Garden", "The agent pauses to take stock of the garden's impossible botany.")},
	)

	return script
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
