package session

import "github.com/quickthorn/lookingglass/internal/domain"

// conversationTracker holds the current NPC dialogue. At most one
// conversation is tracked at a time; a start while already active replaces
// the prior state (the engine never overlaps two conversations for one
// agent).
type conversationTracker struct {
	state domain.Conversation
}

// start opens a dialogue with an empty message list.
func (t *conversationTracker) start(npcName, npcTitle string) {
	t.state = domain.Conversation{
		Active:   true,
		NPCName:  npcName,
		NPCTitle: npcTitle,
	}
}

// message appends an utterance while the dialogue is active. Messages
// received while inactive cannot belong to an open conversation and are
// dropped; the return value reports whether the message was kept.
func (t *conversationTracker) message(msg domain.ConversationMessage) bool {
	if !t.state.Active {
		return false
	}
	t.state.Messages = append(t.state.Messages, msg)
	return true
}

// end closes the dialogue and clears its messages.
func (t *conversationTracker) end() {
	t.state = domain.Conversation{}
}

// get returns a copy of the tracked conversation.
func (t *conversationTracker) get() domain.Conversation {
	state := t.state
	state.Messages = append([]domain.ConversationMessage(nil), t.state.Messages...)
	return state
}
