// Package session implements the client-side state machine for one live
// Wonderland exploration run: it drives the lifecycle calls, owns the event
// stream channel, and reduces every decoded message into a consistent
// in-memory session model with two nested sub-states (goal, conversation).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quickthorn/lookingglass/internal/domain"
	"github.com/quickthorn/lookingglass/internal/lifecycle"
	"github.com/quickthorn/lookingglass/internal/protocol"
	"github.com/quickthorn/lookingglass/internal/stream"
)

// LifecycleAPI is the REST collaborator contract used by the client.
// *lifecycle.Client satisfies it.
type LifecycleAPI interface {
	Presets(ctx context.Context) []domain.GoalPreset
	Start(ctx context.Context, req lifecycle.StartRequest) (*lifecycle.StartResult, error)
	End(ctx context.Context, sessionID uuid.UUID, reason string) error
	Export(ctx context.Context, sessionID uuid.UUID, format string) (string, error)
}

// Channel is the open event stream owned by an active session.
// *stream.Channel satisfies it.
type Channel interface {
	Close() error
}

// ChannelDialer opens the event stream for a session identifier.
type ChannelDialer interface {
	Dial(ctx context.Context, sessionID uuid.UUID, h stream.Handlers) (Channel, error)
}

// DialerFunc adapts a function to the ChannelDialer interface.
type DialerFunc func(ctx context.Context, sessionID uuid.UUID, h stream.Handlers) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, sessionID uuid.UUID, h stream.Handlers) (Channel, error) {
	return f(ctx, sessionID, h)
}

// StreamDialer adapts a *stream.Dialer to the ChannelDialer interface.
func StreamDialer(d *stream.Dialer) ChannelDialer {
	return DialerFunc(func(ctx context.Context, sessionID uuid.UUID, h stream.Handlers) (Channel, error) {
		channel, err := d.Dial(ctx, sessionID, h)
		if err != nil {
			return nil, err
		}
		return channel, nil
	})
}

// Hooks are optional notification callbacks for UI side effects (auto-scroll,
// completion toasts). Each is invoked synchronously after the corresponding
// state mutation, outside the client's lock. Nil hooks are skipped.
type Hooks struct {
	OnStatusChange       func(from, to domain.SessionStatus)
	OnEvent              func(event domain.SessionEvent)
	OnGoalUpdate         func(goal domain.ExplorationGoal)
	OnConversationUpdate func(conversation domain.Conversation)
}

// StartOptions are the user-chosen fields of a session start.
type StartOptions struct {
	AgentName    string
	AgentID      string
	GoalPresetID *uuid.UUID
}

// EndReasonUserRequest is recorded when the local user ends the session.
const EndReasonUserRequest = "user_request"

// EndReasonConnectionClosed is recorded when the channel closes while the
// session was still active. Closure alone is a conclusion, not a failure.
const EndReasonConnectionClosed = "connection_closed"

// Client tracks exactly one exploration session at a time. Starting a new
// session discards all client-side state of the previous one.
type Client struct {
	api    LifecycleAPI
	dialer ChannelDialer
	hooks  Hooks

	mu            sync.Mutex
	status        domain.SessionStatus
	statusMessage string
	sess          *domain.Session
	goal          goalTracker
	conversation  conversationTracker
	channel       Channel

	// pending holds frames the channel delivered while the machine was still
	// connecting. The read loop starts inside Dial, so the snapshot can race
	// ahead of Start observing the dial result; these frames are applied in
	// receipt order the moment the session activates.
	pending []protocol.Message

	// snapshotSeen gates incremental and goal messages: the engine contract
	// guarantees the full snapshot precedes them, so anything earlier is a
	// protocol error, logged and dropped.
	snapshotSeen bool
}

// New creates a session client over the given collaborators.
func New(api LifecycleAPI, dialer ChannelDialer, hooks Hooks) *Client {
	return &Client{
		api:    api,
		dialer: dialer,
		hooks:  hooks,
		status: domain.StatusIdle,
	}
}

// Presets fetches the goal preset catalog. Never session-blocking.
func (c *Client) Presets(ctx context.Context) []domain.GoalPreset {
	return c.api.Presets(ctx)
}

// Start begins a fresh session: any prior client-side state is discarded,
// the creation call is issued, and on success the event channel is opened.
// On any failure the status is error with a human-readable message.
func (c *Client) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	notify := c.reset()
	notify = append(notify, c.setStatus(domain.StatusConnecting, "")...)
	c.mu.Unlock()
	run(notify)

	result, err := c.api.Start(ctx, lifecycle.StartRequest{
		AgentName:    opts.AgentName,
		AgentID:      opts.AgentID,
		GoalPresetID: opts.GoalPresetID,
	})
	if err != nil {
		c.mu.Lock()
		notify = c.setStatus(domain.StatusError, err.Error())
		c.mu.Unlock()
		run(notify)
		return err
	}

	c.mu.Lock()
	now := time.Now().UTC()
	c.sess = &domain.Session{
		ID:        result.SessionID,
		AgentID:   opts.AgentID,
		AgentName: opts.AgentName,
		Status:    "active",
		StartedAt: now,
	}
	c.goal.set(result.Goal)
	c.mu.Unlock()

	channel, err := c.dialer.Dial(ctx, result.SessionID, stream.Handlers{
		OnMessage: c.Dispatch,
		OnClose:   c.onChannelClose,
		OnError:   c.onChannelError,
	})
	if err != nil {
		c.mu.Lock()
		notify = c.setStatus(domain.StatusError, err.Error())
		c.mu.Unlock()
		run(notify)
		return err
	}

	// Activation and the replay of frames that raced ahead of it happen under
	// one lock acquisition, so no live frame can interleave before the
	// buffered snapshot.
	c.mu.Lock()
	c.channel = channel
	notify = c.setStatus(domain.StatusActive, "")
	for _, msg := range c.pending {
		if c.status != domain.StatusActive {
			break // a buffered session_ended concludes the replay
		}
		notify = append(notify, c.applyMessage(msg)...)
	}
	c.pending = nil
	c.mu.Unlock()
	run(notify)

	return nil
}

// End closes the session from the client side. Idempotent: ending a session
// that is not active is a no-op with no further REST side effects. The
// server call is best effort; the local view of "ended" is authoritative
// even when the acknowledgment is lost.
func (c *Client) End(ctx context.Context) {
	c.mu.Lock()
	if c.status != domain.StatusActive || c.sess == nil {
		c.mu.Unlock()
		return
	}
	sessionID := c.sess.ID
	notify := c.markEnded(EndReasonUserRequest)
	c.mu.Unlock()
	run(notify)

	if err := c.api.End(ctx, sessionID, EndReasonUserRequest); err != nil {
		log.Warn().Err(err).Stringer("session_id", sessionID).Msg("session: end call failed, local state already closed")
	}
}

// Export requests a rendered transcript of the current session. Not callable
// before a session identifier exists.
func (c *Client) Export(ctx context.Context, format string) (string, error) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return "", domain.ErrNoSession
	}
	sessionID := c.sess.ID
	c.mu.Unlock()

	return c.api.Export(ctx, sessionID, format)
}

// Close tears down the channel and keepalive timer without a server call.
// Used on component teardown; an active session transitions to ended.
func (c *Client) Close() {
	c.mu.Lock()
	var notify []func()
	if c.status == domain.StatusActive {
		notify = c.markEnded(EndReasonUserRequest)
	} else if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	c.mu.Unlock()
	run(notify)
}

// ---------------------------------------------------------------------------
// Reducer
// ---------------------------------------------------------------------------

// Dispatch applies one decoded channel message to the session model.
// Messages are applied strictly in receipt order; the channel delivers them
// one at a time from a single goroutine. Messages arriving while the machine
// is still connecting are held for activation; messages arriving in any other
// non-active state are ignored rather than applied, so a closed session's
// state can never be resurrected.
func (c *Client) Dispatch(msg protocol.Message) {
	c.mu.Lock()

	if c.status == domain.StatusConnecting {
		c.pending = append(c.pending, msg)
		c.mu.Unlock()
		return
	}

	if c.status != domain.StatusActive {
		status := c.status
		c.mu.Unlock()
		log.Debug().Str("kind", string(msg.Kind())).Str("status", string(status)).
			Msg("session: ignoring message outside active state")
		return
	}

	notify := c.applyMessage(msg)
	c.mu.Unlock()
	run(notify)
}

// applyMessage folds one message into the session model and returns the hook
// notifications to run after the lock is released. Caller holds the lock and
// has checked the session is active.
func (c *Client) applyMessage(msg protocol.Message) []func() {
	var notify []func()

	switch m := msg.(type) {
	case protocol.SessionState:
		notify = c.applySnapshot(m.Session)

	case protocol.SessionEvent:
		notify = c.applyEvent(m.Event)

	case protocol.GoalProgress:
		notify = c.applyGoal(m.Goal)

	case protocol.GoalCompleted:
		notify = c.applyGoal(m.Goal)

	case protocol.ConversationStart:
		c.conversation.start(m.NPCName, m.NPCTitle)
		notify = c.notifyConversation()

	case protocol.ConversationMessage:
		if c.conversation.message(m.Message) {
			notify = c.notifyConversation()
		} else {
			log.Debug().Str("speaker", m.Message.Speaker).
				Msg("session: dropping conversation message with no active conversation")
		}

	case protocol.ConversationEnd:
		c.conversation.end()
		notify = c.notifyConversation()

	case protocol.SessionEnded:
		notify = c.markEnded(m.Reason)

	default:
		log.Warn().Str("kind", string(msg.Kind())).Msg("session: unhandled message kind")
	}

	return notify
}

// applySnapshot replaces the entire local session model. Receiving the same
// snapshot twice yields the same state.
func (c *Client) applySnapshot(sess domain.Session) []func() {
	snapshot := sess
	snapshot.Events = append([]domain.SessionEvent(nil), sess.Events...)
	snapshot.VisitedRooms = append([]string(nil), sess.VisitedRooms...)
	c.sess = &snapshot
	c.goal.set(sess.Goal)
	c.snapshotSeen = true
	return nil
}

// applyEvent appends one incremental event and updates the current room from
// its location, if any. The log is append-only; nothing is reordered.
func (c *Client) applyEvent(event domain.SessionEvent) []func() {
	if !c.snapshotSeen {
		log.Error().Str("type", string(event.Type)).
			Msg("session: protocol error: event before snapshot, dropping")
		return nil
	}

	c.sess.Events = append(c.sess.Events, event)

	if event.LocationID != "" {
		c.sess.CurrentRoomID = event.LocationID
		c.sess.CurrentRoomName = event.LocationName
		if !containsRoom(c.sess.VisitedRooms, event.LocationID) {
			c.sess.VisitedRooms = append(c.sess.VisitedRooms, event.LocationID)
		}
	}

	if c.hooks.OnEvent == nil {
		return nil
	}
	return []func(){func() { c.hooks.OnEvent(event) }}
}

// applyGoal replaces the current goal wholesale. The server is the sole
// source of truth: an apparent regression in progress is applied as-is.
// Completion emits no synthetic session event; the engine sends its own
// goal_completed event on the log.
func (c *Client) applyGoal(goal domain.ExplorationGoal) []func() {
	if !c.snapshotSeen {
		log.Error().Stringer("goal_id", goal.ID).
			Msg("session: protocol error: goal update before snapshot, dropping")
		return nil
	}

	c.goal.set(&goal)
	c.sess.Goal = &goal

	if c.hooks.OnGoalUpdate == nil {
		return nil
	}
	return []func(){func() { c.hooks.OnGoalUpdate(goal) }}
}

// markEnded closes the channel and moves the machine to ended. Shared by the
// server-driven session_ended message, the local End call, and channel close.
func (c *Client) markEnded(reason string) []func() {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.sess != nil {
		now := time.Now().UTC()
		c.sess.Status = "ended"
		c.sess.EndedAt = &now
		c.sess.EndReason = reason
	}
	return c.setStatus(domain.StatusEnded, reason)
}

func (c *Client) notifyConversation() []func() {
	if c.hooks.OnConversationUpdate == nil {
		return nil
	}
	state := c.conversation.get()
	return []func(){func() { c.hooks.OnConversationUpdate(state) }}
}

// ---------------------------------------------------------------------------
// Channel callbacks
// ---------------------------------------------------------------------------

// onChannelClose handles a server-side or network closure. A closed channel
// always means the exploration is over, so an active session moves to ended,
// never to error. A session already in a terminal state is left untouched.
func (c *Client) onChannelClose() {
	c.mu.Lock()
	var notify []func()
	if c.status == domain.StatusActive {
		notify = c.markEnded(EndReasonConnectionClosed)
	}
	c.mu.Unlock()
	run(notify)
}

// onChannelError handles a transport failure. Existing session data is
// retained for inspection but frozen.
func (c *Client) onChannelError(err error) {
	c.mu.Lock()
	var notify []func()
	if !c.status.Terminal() {
		if c.channel != nil {
			_ = c.channel.Close()
			c.channel = nil
		}
		notify = c.setStatus(domain.StatusError, err.Error())
	}
	c.mu.Unlock()
	run(notify)
}

// ---------------------------------------------------------------------------
// State accessors
// ---------------------------------------------------------------------------

// Status returns the current machine state.
func (c *Client) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StatusMessage returns the human-readable detail for the current status,
// non-empty in the error state.
func (c *Client) StatusMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusMessage
}

// Session returns a copy of the current session model, or nil before the
// first start.
func (c *Client) Session() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	sess := *c.sess
	sess.Events = append([]domain.SessionEvent(nil), c.sess.Events...)
	sess.VisitedRooms = append([]string(nil), c.sess.VisitedRooms...)
	sess.Goal = c.goal.get()
	return &sess
}

// Events returns a copy of the ordered event log.
func (c *Client) Events() []domain.SessionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return append([]domain.SessionEvent(nil), c.sess.Events...)
}

// CurrentRoom returns the identifier and display name of the agent's
// current location.
func (c *Client) CurrentRoom() (id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return "", ""
	}
	return c.sess.CurrentRoomID, c.sess.CurrentRoomName
}

// Goal returns a copy of the current exploration goal, or nil when none is
// set.
func (c *Client) Goal() *domain.ExplorationGoal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goal.get()
}

// Conversation returns a copy of the current NPC dialogue state.
func (c *Client) Conversation() domain.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversation.get()
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// reset discards all client-side state of the previous session. A new start
// begins from idle regardless of how the prior session concluded. Caller
// holds the lock.
func (c *Client) reset() []func() {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	c.sess = nil
	c.goal.clear()
	c.conversation.end()
	c.pending = nil
	c.snapshotSeen = false

	if c.status == domain.StatusIdle {
		return nil
	}
	from := c.status
	c.status = domain.StatusIdle
	c.statusMessage = ""
	if c.hooks.OnStatusChange == nil {
		return nil
	}
	return []func(){func() { c.hooks.OnStatusChange(from, domain.StatusIdle) }}
}

// setStatus performs one machine transition. Invalid transitions are logged
// and refused rather than applied. Caller holds the lock.
func (c *Client) setStatus(to domain.SessionStatus, message string) []func() {
	from := c.status
	if from == to {
		return nil
	}
	if !from.ValidTransition(to) {
		log.Error().Str("from", string(from)).Str("to", string(to)).
			Msg("session: refusing invalid status transition")
		return nil
	}
	c.status = to
	c.statusMessage = message
	if c.hooks.OnStatusChange == nil {
		return nil
	}
	return []func(){func() { c.hooks.OnStatusChange(from, to) }}
}

func containsRoom(rooms []string, id string) bool {
	for _, r := range rooms {
		if r == id {
			return true
		}
	}
	return false
}

func run(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}
