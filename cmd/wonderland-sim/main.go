// Command wonderland-sim serves the scripted Wonderland engine: the REST
// lifecycle endpoints and per-session event channels, replaying a fixed
// exploration timeline. Intended for local development of the session client
// and the control panel frontend.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quickthorn/lookingglass/internal/config"
	"github.com/quickthorn/lookingglass/internal/sim"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	_ = godotenv.Load()

	level, parseErr := zerolog.ParseLevel(os.Getenv("LOOKINGGLASS_LOG_LEVEL"))
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("LOOKINGGLASS_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	secret := cfg.Sim.JWTSecret
	if secret == "" {
		// Ephemeral secret: fine for a dev server, tokens die with the process.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("LOOKINGGLASS_SIM_JWT_SECRET not set, using an ephemeral secret")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server, err := sim.New(ctx, sim.Config{
		JWTSecret:     secret,
		TokenTTL:      cfg.Sim.TokenTTL,
		StepDelay:     cfg.Sim.StepDelay,
		RatePerSecond: cfg.Sim.RatePerSecond,
		RateBurst:     cfg.Sim.RateBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.Sim.Addr,
		Handler: server.Handler(),
		// Only the header read is bounded: event channels are long-lived
		// hijacked connections and must not inherit body or write deadlines.
		ReadHeaderTimeout: cfg.Sim.ReadTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Sim.Addr).Msg("starting wonderland-sim")
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error().Err(serveErr).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
