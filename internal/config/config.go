package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Client ClientConfig
	Sim    SimConfig
}

// ClientConfig holds settings for the exploration session client.
type ClientConfig struct {
	// ServerURL is the Wonderland REST root, e.g. "http://localhost:8080".
	ServerURL string
	// WSURL is the websocket root; derived from ServerURL when empty.
	WSURL string
	// Token is the bearer credential. May be empty; Start then fails with
	// NotAuthenticated.
	Token string
	// AgentName / AgentID identify the agent whose exploration is observed.
	AgentName string
	AgentID   string

	HTTPTimeout       time.Duration
	KeepaliveInterval time.Duration
}

// SimConfig holds settings for the scripted simulation server.
type SimConfig struct {
	Addr          string
	JWTSecret     string //nolint:gosec // G117: signing secret config
	TokenTTL      time.Duration
	StepDelay     time.Duration
	RatePerSecond float64
	RateBurst     int
	ReadTimeout   time.Duration
}

// Load reads configuration from environment variables. Defaults are safe for
// local development against the bundled simulation server.
func Load() (*Config, error) {
	httpTimeout, err := getEnvDuration("LOOKINGGLASS_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	keepalive, err := getEnvDuration("LOOKINGGLASS_KEEPALIVE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tokenTTL, err := getEnvDuration("LOOKINGGLASS_SIM_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	stepDelay, err := getEnvDuration("LOOKINGGLASS_SIM_STEP_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("LOOKINGGLASS_SIM_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	ratePerSecond, err := getEnvFloat("LOOKINGGLASS_SIM_RATE_PER_SECOND", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("LOOKINGGLASS_SIM_RATE_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	serverURL := getEnv("LOOKINGGLASS_SERVER_URL", "http://localhost:8080")

	cfg := &Config{
		Client: ClientConfig{
			ServerURL:         serverURL,
			WSURL:             getEnv("LOOKINGGLASS_WS_URL", deriveWSURL(serverURL)),
			Token:             getEnv("LOOKINGGLASS_TOKEN", ""),
			AgentName:         getEnv("LOOKINGGLASS_AGENT_NAME", "alice"),
			AgentID:           getEnv("LOOKINGGLASS_AGENT_ID", ""),
			HTTPTimeout:       httpTimeout,
			KeepaliveInterval: keepalive,
		},
		Sim: SimConfig{
			Addr:          getEnv("LOOKINGGLASS_SIM_ADDR", ":8080"),
			JWTSecret:     getEnv("LOOKINGGLASS_SIM_JWT_SECRET", ""),
			TokenTTL:      tokenTTL,
			StepDelay:     stepDelay,
			RatePerSecond: ratePerSecond,
			RateBurst:     rateBurst,
			ReadTimeout:   readTimeout,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Client.ServerURL == "" {
		return errors.New("LOOKINGGLASS_SERVER_URL is required")
	}
	if !strings.HasPrefix(c.Client.WSURL, "ws://") && !strings.HasPrefix(c.Client.WSURL, "wss://") {
		return fmt.Errorf("LOOKINGGLASS_WS_URL must be a ws:// or wss:// URL, got %q", c.Client.WSURL)
	}
	if c.Client.HTTPTimeout <= 0 {
		return fmt.Errorf("LOOKINGGLASS_HTTP_TIMEOUT must be positive, got %s", c.Client.HTTPTimeout)
	}
	if c.Client.KeepaliveInterval <= 0 {
		return fmt.Errorf("LOOKINGGLASS_KEEPALIVE_INTERVAL must be positive, got %s", c.Client.KeepaliveInterval)
	}
	if c.Sim.RatePerSecond <= 0 {
		return fmt.Errorf("LOOKINGGLASS_SIM_RATE_PER_SECOND must be positive, got %g", c.Sim.RatePerSecond)
	}
	if c.Sim.RateBurst < 1 {
		return fmt.Errorf("LOOKINGGLASS_SIM_RATE_BURST must be >= 1, got %d", c.Sim.RateBurst)
	}
	return nil
}

// deriveWSURL maps an http(s) REST root to its ws(s) counterpart.
func deriveWSURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}
