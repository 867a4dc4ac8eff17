package session

import "github.com/quickthorn/lookingglass/internal/domain"

// goalTracker holds the current exploration goal. It is a pure state holder:
// entirely driven by the reducer, never polled. Completion is a property of
// the received goal object, not a separately tracked flag.
type goalTracker struct {
	current *domain.ExplorationGoal
}

// set replaces the tracked goal wholesale. The server always sends the full
// goal object, so no field-level merge ever happens.
func (t *goalTracker) set(goal *domain.ExplorationGoal) {
	t.current = goal
}

// clear drops the tracked goal. Called only on a fresh session start.
func (t *goalTracker) clear() {
	t.current = nil
}

// get returns a copy of the tracked goal, or nil when no goal is set.
func (t *goalTracker) get() *domain.ExplorationGoal {
	if t.current == nil {
		return nil
	}
	goal := *t.current
	return &goal
}
