// Package sim implements a scripted Wonderland engine: the REST lifecycle
// endpoints and the per-session event channel, replaying a fixed exploration
// timeline. It exists so the client is runnable and testable without the
// real simulation backend; cmd/wonderland-sim serves it standalone.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/quickthorn/lookingglass/internal/domain"
	"github.com/quickthorn/lookingglass/internal/protocol"
)

// Config holds simulation server settings.
type Config struct {
	// JWTSecret signs and validates dev tokens. Required.
	JWTSecret string

	// TokenTTL bounds issued tokens. Defaults to 1 hour.
	TokenTTL time.Duration

	// StepDelay is the pause between script steps without their own delay.
	// Zero means no pause; tests rely on that.
	StepDelay time.Duration

	// RatePerSecond / RateBurst bound per-IP request rates on the token and
	// session-creation endpoints.
	RatePerSecond float64
	RateBurst     int

	// ScriptFor builds the exploration timeline for a new session. Defaults
	// to DefaultScript.
	ScriptFor func(goal *domain.ExplorationGoal) Script
}

// simSession is one server-side session: the authoritative state plus the
// remaining script.
type simSession struct {
	mu     sync.Mutex
	sess   domain.Session
	script Script
	cursor int

	ended   chan struct{}
	endOnce sync.Once
}

// Server is the scripted Wonderland engine.
type Server struct {
	cfg     Config
	router  chi.Router
	presets []domain.GoalPreset

	mu       sync.Mutex
	sessions map[uuid.UUID]*simSession
}

// New creates a simulation server. ctx bounds background resources such as
// the rate limiter cleanup.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("sim.New: JWTSecret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.ScriptFor == nil {
		cfg.ScriptFor = DefaultScript
	}

	s := &Server{
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*simSession),
		presets: []domain.GoalPreset{
			{ID: uuid.New(), Title: "Chart the Gardens", Type: "visit_rooms", Target: 5},
			{ID: uuid.New(), Title: "Court Introductions", Type: "meet_npcs", Target: 3},
			{ID: uuid.New(), Title: "A Cabinet of Curiosities", Type: "collect", Target: 7},
		},
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	limited := perIPThrottle(ctx, cfg.RatePerSecond, cfg.RateBurst)

	router.Group(func(r chi.Router) {
		r.Use(limited)
		r.Post("/auth/token", s.handleToken)
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/presets", s.handlePresets)
		r.With(limited).Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/{sessionID}/end", s.handleEndSession)
		r.Get("/sessions/{sessionID}/export", s.handleExport)
	})

	router.Route("/ws", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/sessions/{sessionID}", s.serveSession)
	})

	s.router = router
	return s, nil
}

// Handler returns the HTTP handler for the simulation server.
func (s *Server) Handler() http.Handler { return s.router }

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// handleToken issues a signed dev token for the requesting user.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	// An empty body is fine; the sim assigns an anonymous user.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.UserID == "" {
		body.UserID = uuid.NewString()
	}

	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			Issuer:    "wonderland-sim",
		},
		UserID: body.UserID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      signed,
		"expires_at": now.Add(s.cfg.TokenTTL).UTC(),
	})
}

// requireToken validates the Bearer credential on protected routes.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &tokenClaims{}
		token, err := jwt.ParseWithClaims(header[len(prefix):], claims, func(_ *jwt.Token) (any, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), claims.UserID)))
	})
}

type contextKey string

const contextKeyUserID contextKey = "sim.user_id"

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

func userIDFrom(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(contextKeyUserID).(string)
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// ---------------------------------------------------------------------------
// Lifecycle endpoints
// ---------------------------------------------------------------------------

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": s.presets})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName  string     `json:"agent_name"`
		AgentID    string     `json:"agent_id"`
		GoalPreset *uuid.UUID `json:"goal_preset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agent_name is required")
		return
	}

	var goal *domain.ExplorationGoal
	if body.GoalPreset != nil {
		preset, ok := s.presetByID(*body.GoalPreset)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown goal preset")
			return
		}
		goal = &domain.ExplorationGoal{
			ID:     uuid.New(),
			Title:  preset.Title,
			Type:   preset.Type,
			Target: preset.Target,
		}
	}

	sess := &simSession{
		sess: domain.Session{
			ID:        uuid.New(),
			UserID:    userIDFrom(r.Context()),
			AgentID:   body.AgentID,
			AgentName: body.AgentName,
			Status:    "active",
			StartedAt: time.Now().UTC(),
			Goal:      goal,
		},
		script: s.cfg.ScriptFor(goal),
		ended:  make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.sess.ID] = sess
	s.mu.Unlock()

	log.Info().Stringer("session_id", sess.sess.ID).Str("agent", body.AgentName).Msg("sim: session created")

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.sess.ID,
		"goal":       goal,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "user_request"
	}
	sess.end(reason)

	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	content, err := sess.export(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*simSession, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) presetByID(id uuid.UUID) (domain.GoalPreset, bool) {
	for _, p := range s.presets {
		if p.ID == id {
			return p, true
		}
	}
	return domain.GoalPreset{}, false
}

// ---------------------------------------------------------------------------
// Event channel
// ---------------------------------------------------------------------------

// serveSession replays the scripted timeline over a websocket: snapshot
// first, then the remaining steps, then session_ended when the session is
// closed. Inbound frames (client keepalives) are read and discarded.
func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("sim: websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Drain inbound frames so client keepalives do not back up.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, readErr := conn.Read(ctx); readErr != nil {
				return
			}
		}
	}()

	// Snapshot first: the engine contract guarantees it precedes any
	// incremental message on this connection.
	if err := s.writeMessage(ctx, conn, protocol.SessionState{Session: sess.snapshot()}); err != nil {
		return
	}

	for {
		step, ok := sess.nextStep()
		if !ok {
			break
		}

		delay := step.Delay
		if delay == 0 {
			delay = s.cfg.StepDelay
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-readDone:
				return
			case <-sess.ended:
			case <-time.After(delay):
			}
		}

		select {
		case <-sess.ended:
			// Stop replaying; fall through to the ended notification.
		default:
			sess.apply(step.Message)
			if err := s.writeMessage(ctx, conn, step.Message); err != nil {
				return
			}
			continue
		}
		break
	}

	// Script exhausted or session ended: hold the channel open until the
	// session closes, then notify and shut the connection.
	select {
	case <-ctx.Done():
		return
	case <-readDone:
		return
	case <-sess.ended:
	}

	reason := sess.endReason()
	_ = s.writeMessage(ctx, conn, protocol.SessionEnded{Reason: reason})
	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (s *Server) writeMessage(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("sim: encode frame")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		log.Debug().Err(err).Msg("sim: websocket write")
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// simSession state
// ---------------------------------------------------------------------------

func (ss *simSession) snapshot() domain.Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess := ss.sess
	sess.Events = append([]domain.SessionEvent(nil), ss.sess.Events...)
	sess.VisitedRooms = append([]string(nil), ss.sess.VisitedRooms...)
	if ss.sess.Goal != nil {
		goal := *ss.sess.Goal
		sess.Goal = &goal
	}
	return sess
}

func (ss *simSession) nextStep() (Step, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.cursor >= len(ss.script) {
		return Step{}, false
	}
	step := ss.script[ss.cursor]
	ss.cursor++
	return step, true
}

// apply folds an outgoing message into the authoritative session state so
// later snapshots and exports include it.
func (ss *simSession) apply(msg protocol.Message) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	switch m := msg.(type) {
	case protocol.SessionEvent:
		ss.sess.Events = append(ss.sess.Events, m.Event)
		if m.Event.LocationID != "" {
			ss.sess.CurrentRoomID = m.Event.LocationID
			ss.sess.CurrentRoomName = m.Event.LocationName
			if !visited(ss.sess.VisitedRooms, m.Event.LocationID) {
				ss.sess.VisitedRooms = append(ss.sess.VisitedRooms, m.Event.LocationID)
			}
		}
	case protocol.GoalProgress:
		goal := m.Goal
		ss.sess.Goal = &goal
	case protocol.GoalCompleted:
		goal := m.Goal
		ss.sess.Goal = &goal
	default:
		// Conversation traffic is transient and not part of the snapshot.
	}
}

func (ss *simSession) end(reason string) {
	ss.endOnce.Do(func() {
		ss.mu.Lock()
		now := time.Now().UTC()
		ss.sess.Status = "ended"
		ss.sess.EndedAt = &now
		ss.sess.EndReason = reason
		ss.mu.Unlock()
		close(ss.ended)
	})
}

func (ss *simSession) endReason() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.sess.EndReason
}

func visited(rooms []string, id string) bool {
	for _, r := range rooms {
		if r == id {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("sim: write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
