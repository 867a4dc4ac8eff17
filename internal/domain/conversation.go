package domain

// ConversationMessage is one utterance inside an NPC dialogue.
type ConversationMessage struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
	IsAgent bool   `json:"is_agent"`
	Thought string `json:"thought,omitempty"`
}

// Conversation is the client's view of the current NPC dialogue. At most one
// conversation is tracked at a time; messages accumulate only while active
// and are cleared when the conversation ends.
type Conversation struct {
	Active   bool                  `json:"active"`
	NPCName  string                `json:"npc_name,omitempty"`
	NPCTitle string                `json:"npc_title,omitempty"`
	Messages []ConversationMessage `json:"messages,omitempty"`
}
