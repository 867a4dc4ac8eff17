// Package stream owns the persistent duplex connection carrying Wonderland
// event frames for one session: it dials the websocket, decodes inbound
// frames into protocol messages, and sends periodic keepalives so the engine
// does not drop an idle connection.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quickthorn/lookingglass/internal/protocol"
)

// DefaultKeepaliveInterval is how often a keepalive frame is sent while the
// channel is open.
const DefaultKeepaliveInterval = 30 * time.Second

// Handlers receives channel callbacks. All callbacks are invoked from the
// channel's internal goroutines, one at a time.
type Handlers struct {
	// OnMessage is called for every decoded non-keepalive frame, in receipt
	// order.
	OnMessage func(msg protocol.Message)

	// OnClose is called once when the connection closes for any reason other
	// than a local Close call. A closed channel always means the exploration
	// is over.
	OnClose func()

	// OnError is called when the transport fails mid-session (e.g. a
	// keepalive write error). The channel is unusable afterwards.
	OnError func(err error)
}

// Channel is one live event stream connection. Exactly one channel may be
// open per session; it is created by a Dialer and torn down with Close.
type Channel struct {
	conn      *websocket.Conn
	sessionID uuid.UUID
	handlers  Handlers

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dialer opens event stream channels against a Wonderland server.
type Dialer struct {
	// BaseURL is the websocket root, e.g. "ws://localhost:8080".
	BaseURL string

	// Token is the bearer credential sent during the handshake.
	Token string

	// KeepaliveInterval overrides DefaultKeepaliveInterval when positive.
	KeepaliveInterval time.Duration
}

// Dial opens the channel for the given session and starts its read and
// keepalive loops. The returned channel is open: the caller may treat a
// successful Dial as the session's transition to active.
func (d *Dialer) Dial(ctx context.Context, sessionID uuid.UUID, h Handlers) (*Channel, error) {
	wsURL := fmt.Sprintf("%s/ws/sessions/%s", d.BaseURL, sessionID)

	opts := &websocket.DialOptions{}
	if d.Token != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + d.Token},
		}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("stream.Dialer.Dial: %w", err)
	}

	// The channel outlives the dial context; it is torn down only by Close.
	chanCtx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		conn:      conn,
		sessionID: sessionID,
		handlers:  h,
		ctx:       chanCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	interval := d.KeepaliveInterval
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}

	go c.readLoop()
	go c.keepaliveLoop(interval)

	return c, nil
}

// SessionID returns the session this channel is attached to.
func (c *Channel) SessionID() uuid.UUID { return c.sessionID }

// Close tears the channel down: stops the keepalive timer, closes the
// websocket, and suppresses the OnClose callback (a local close is not a
// server-driven closure). Safe to call more than once.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// closed reports whether Close has been called.
func (c *Channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readLoop receives frames until the connection drops. Malformed frames are
// logged and dropped; inbound keepalives are transport-level noise and never
// reach the message handler.
func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if !c.closed() {
				log.Debug().Err(err).Stringer("session_id", c.sessionID).Msg("stream: channel closed")
				c.Close()
				if c.handlers.OnClose != nil {
					c.handlers.OnClose()
				}
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Stringer("session_id", c.sessionID).Msg("stream: dropping malformed frame")
			continue
		}

		if msg.Kind() == protocol.KindKeepalive {
			continue
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(msg)
		}
	}
}

// keepaliveLoop sends a bare keepalive frame at a fixed interval. A write
// failure means the transport is dead and is surfaced as a channel error.
func (c *Channel) keepaliveLoop(interval time.Duration) {
	frame, err := protocol.Encode(protocol.Keepalive{})
	if err != nil {
		// Cannot happen for a payload-free frame; guard anyway.
		log.Error().Err(err).Msg("stream: encode keepalive")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Write(c.ctx, websocket.MessageText, frame); err != nil {
				if c.closed() {
					return
				}
				log.Warn().Err(err).Stringer("session_id", c.sessionID).Msg("stream: keepalive write failed")
				c.Close()
				if c.handlers.OnError != nil {
					c.handlers.OnError(fmt.Errorf("stream.Channel: keepalive: %w", err))
				}
				return
			}
		}
	}
}
