// Package protocol defines the wire format of the Wonderland event channel:
// a JSON envelope with a discriminating "kind" field and a closed set of
// payload shapes. Both the client channel and the simulation server speak
// this format.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quickthorn/lookingglass/internal/domain"
)

// Kind discriminates the message types carried on the event channel.
type Kind string

const (
	KindSessionState        Kind = "session_state"
	KindSessionEvent        Kind = "session_event"
	KindGoalProgress        Kind = "goal_progress"
	KindGoalCompleted       Kind = "goal_completed"
	KindConversationStart   Kind = "conversation_start"
	KindConversationMessage Kind = "conversation_message"
	KindConversationEnd     Kind = "conversation_end"
	KindSessionEnded        Kind = "session_ended"
	KindKeepalive           Kind = "keepalive"
)

// ErrMalformedMessage is returned when a frame cannot be decoded into a known
// message. Callers log and drop such frames; they must never reach the reducer.
var ErrMalformedMessage = errors.New("protocol: malformed message")

// Message is a decoded channel frame. Concrete types: SessionState,
// SessionEvent, GoalProgress, GoalCompleted, ConversationStart,
// ConversationMessage, ConversationEnd, SessionEnded, Keepalive.
type Message interface {
	Kind() Kind
}

// SessionState is the full-state snapshot sent once after channel open.
type SessionState struct {
	Session domain.Session `json:"session"`
}

func (SessionState) Kind() Kind { return KindSessionState }

// SessionEvent carries one incremental event log entry.
type SessionEvent struct {
	Event domain.SessionEvent `json:"event"`
}

func (SessionEvent) Kind() Kind { return KindSessionEvent }

// GoalProgress carries the full goal object after a progress update.
type GoalProgress struct {
	Goal domain.ExplorationGoal `json:"goal"`
}

func (GoalProgress) Kind() Kind { return KindGoalProgress }

// GoalCompleted carries the full goal object with is_completed set.
type GoalCompleted struct {
	Goal domain.ExplorationGoal `json:"goal"`
}

func (GoalCompleted) Kind() Kind { return KindGoalCompleted }

// ConversationStart opens an NPC dialogue.
type ConversationStart struct {
	NPCName  string `json:"npc_name"`
	NPCTitle string `json:"npc_title,omitempty"`
}

func (ConversationStart) Kind() Kind { return KindConversationStart }

// ConversationMessage appends one utterance to the active dialogue.
type ConversationMessage struct {
	Message domain.ConversationMessage `json:"message"`
}

func (ConversationMessage) Kind() Kind { return KindConversationMessage }

// ConversationEnd closes the active NPC dialogue.
type ConversationEnd struct {
	NPCName string `json:"npc_name"`
}

func (ConversationEnd) Kind() Kind { return KindConversationEnd }

// SessionEnded signals a server-driven end of the exploration.
type SessionEnded struct {
	Reason string `json:"reason"`
}

func (SessionEnded) Kind() Kind { return KindSessionEnded }

// Keepalive is a transport-level no-op in either direction. It produces no
// session-visible event.
type Keepalive struct{}

func (Keepalive) Kind() Kind { return KindKeepalive }

// envelope is the raw frame: the kind plus the union of payload fields.
type envelope struct {
	Kind     Kind            `json:"kind"`
	Session  json.RawMessage `json:"session,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
	Goal     json.RawMessage `json:"goal,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	NPCName  string          `json:"npc_name,omitempty"`
	NPCTitle string          `json:"npc_title,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Decode parses a raw channel frame into a typed Message. A frame with
// invalid JSON, an unknown kind, or a missing required payload yields
// ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol.Decode: %w: %w", ErrMalformedMessage, err)
	}

	switch env.Kind {
	case KindSessionState:
		var msg SessionState
		if err := unmarshalPayload(env.Session, &msg.Session); err != nil {
			return nil, err
		}
		return msg, nil

	case KindSessionEvent:
		var msg SessionEvent
		if err := unmarshalPayload(env.Event, &msg.Event); err != nil {
			return nil, err
		}
		return msg, nil

	case KindGoalProgress:
		var msg GoalProgress
		if err := unmarshalPayload(env.Goal, &msg.Goal); err != nil {
			return nil, err
		}
		return msg, nil

	case KindGoalCompleted:
		var msg GoalCompleted
		if err := unmarshalPayload(env.Goal, &msg.Goal); err != nil {
			return nil, err
		}
		return msg, nil

	case KindConversationStart:
		return ConversationStart{NPCName: env.NPCName, NPCTitle: env.NPCTitle}, nil

	case KindConversationMessage:
		var msg ConversationMessage
		if err := unmarshalPayload(env.Message, &msg.Message); err != nil {
			return nil, err
		}
		return msg, nil

	case KindConversationEnd:
		return ConversationEnd{NPCName: env.NPCName}, nil

	case KindSessionEnded:
		return SessionEnded{Reason: env.Reason}, nil

	case KindKeepalive:
		return Keepalive{}, nil

	default:
		return nil, fmt.Errorf("protocol.Decode: %w: unknown kind %q", ErrMalformedMessage, env.Kind)
	}
}

// Encode renders a typed Message into its wire frame.
func Encode(msg Message) ([]byte, error) {
	env := map[string]any{"kind": msg.Kind()}

	switch m := msg.(type) {
	case SessionState:
		env["session"] = m.Session
	case SessionEvent:
		env["event"] = m.Event
	case GoalProgress:
		env["goal"] = m.Goal
	case GoalCompleted:
		env["goal"] = m.Goal
	case ConversationStart:
		env["npc_name"] = m.NPCName
		if m.NPCTitle != "" {
			env["npc_title"] = m.NPCTitle
		}
	case ConversationMessage:
		env["message"] = m.Message
	case ConversationEnd:
		env["npc_name"] = m.NPCName
	case SessionEnded:
		env["reason"] = m.Reason
	case Keepalive:
		// kind only
	default:
		return nil, fmt.Errorf("protocol.Encode: unsupported message type %T", msg)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol.Encode: %w", err)
	}
	return data, nil
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("protocol.Decode: %w: missing payload", ErrMalformedMessage)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("protocol.Decode: %w: %w", ErrMalformedMessage, err)
	}
	return nil
}
