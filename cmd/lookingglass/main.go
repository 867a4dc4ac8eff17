// Command lookingglass runs one live exploration session against a
// Wonderland server and streams it to the console: it authenticates, starts
// the session, follows the event channel until the exploration concludes (or
// the user interrupts), then ends the session and prints the transcript.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quickthorn/lookingglass/internal/config"
	"github.com/quickthorn/lookingglass/internal/domain"
	"github.com/quickthorn/lookingglass/internal/lifecycle"
	"github.com/quickthorn/lookingglass/internal/session"
	"github.com/quickthorn/lookingglass/internal/stream"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	_ = godotenv.Load()

	// Initialize structured logging from environment.
	level, parseErr := zerolog.ParseLevel(os.Getenv("LOOKINGGLASS_LOG_LEVEL"))
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("LOOKINGGLASS_LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	token := cfg.Client.Token
	if token == "" {
		// No credential configured: ask the server for a dev token. Works
		// against the bundled simulation server.
		token, err = fetchDevToken(ctx, cfg.Client.ServerURL, cfg.Client.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("no LOOKINGGLASS_TOKEN set and dev token fetch failed: %w", err)
		}
		log.Debug().Msg("using dev token issued by the server")
	}

	api, err := lifecycle.New(lifecycle.Config{
		BaseURL:    cfg.Client.ServerURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: cfg.Client.HTTPTimeout},
	})
	if err != nil {
		return err
	}

	dialer := &stream.Dialer{
		BaseURL:           cfg.Client.WSURL,
		Token:             token,
		KeepaliveInterval: cfg.Client.KeepaliveInterval,
	}

	// concluded is closed when the session reaches a terminal state.
	concluded := make(chan struct{})

	client := session.New(api, session.StreamDialer(dialer), session.Hooks{
		OnStatusChange: func(from, to domain.SessionStatus) {
			log.Info().Str("from", string(from)).Str("to", string(to)).Msg("status")
			if to.Terminal() {
				select {
				case <-concluded:
				default:
					close(concluded)
				}
			}
		},
		OnEvent: func(event domain.SessionEvent) {
			entry := log.Info().Str("type", string(event.Type))
			if event.LocationName != "" {
				entry = entry.Str("room", event.LocationName)
			}
			entry.Msg(event.Description)
		},
		OnGoalUpdate: func(goal domain.ExplorationGoal) {
			log.Info().Str("goal", goal.Title).Int("current", goal.Current).Int("target", goal.Target).
				Bool("completed", goal.IsCompleted).Msg("goal update")
		},
		OnConversationUpdate: func(conversation domain.Conversation) {
			if !conversation.Active {
				return
			}
			if n := len(conversation.Messages); n > 0 {
				last := conversation.Messages[n-1]
				log.Info().Str("npc", conversation.NPCName).Str("speaker", last.Speaker).Msg(last.Content)
			} else {
				log.Info().Str("npc", conversation.NPCName).Str("title", conversation.NPCTitle).Msg("conversation started")
			}
		},
	})

	opts := session.StartOptions{
		AgentName: cfg.Client.AgentName,
		AgentID:   cfg.Client.AgentID,
	}

	// An optional goal preset, matched by title against the catalog.
	if wanted := os.Getenv("LOOKINGGLASS_GOAL_TITLE"); wanted != "" {
		for _, preset := range client.Presets(ctx) {
			if preset.Title == wanted {
				id := preset.ID
				opts.GoalPresetID = &id
				break
			}
		}
		if opts.GoalPresetID == nil {
			log.Warn().Str("title", wanted).Msg("goal preset not found, starting without a goal")
		}
	}

	if err := client.Start(ctx, opts); err != nil {
		return fmt.Errorf("session start: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, ending session")
	case <-concluded:
	}

	// Teardown uses a fresh context: the signal context is already done when
	// the user interrupted.
	teardownCtx, teardownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer teardownCancel()

	client.End(teardownCtx)

	transcript, err := client.Export(teardownCtx, "md")
	if err != nil {
		log.Warn().Err(err).Msg("transcript export failed")
		return nil
	}
	fmt.Println(transcript)

	return nil
}

// fetchDevToken requests a short-lived token from the server's dev token
// endpoint.
func fetchDevToken(ctx context.Context, serverURL string, timeout time.Duration) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/auth/token", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}
