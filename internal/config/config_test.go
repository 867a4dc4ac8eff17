package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "LG_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "LG_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "LG_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "LG_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "LG_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "LG_TEST_INT_VALID", setVal: strPtr("20"), fallback: 0, want: 20},
		{name: "parses negative int", key: "LG_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "returns fallback for empty string", key: "LG_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "LG_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "LG_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "LG_TEST_FLOAT_UNSET", setVal: nil, fallback: 10, want: 10},
		{name: "parses integer form", key: "LG_TEST_FLOAT_INT", setVal: strPtr("5"), fallback: 0, want: 5},
		{name: "parses fractional", key: "LG_TEST_FLOAT_FRAC", setVal: strPtr("0.5"), fallback: 0, want: 0.5},
		{name: "returns fallback for empty string", key: "LG_TEST_FLOAT_EMPTY", setVal: strPtr(""), fallback: 2.5, want: 2.5},
		{name: "errors on non-numeric", key: "LG_TEST_FLOAT_NAN", setVal: strPtr("fast"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "LG_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "LG_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses composite", key: "LG_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "parses zero", key: "LG_TEST_DUR_ZERO", setVal: strPtr("0s"), fallback: 5 * time.Second, want: 0},
		{name: "errors on invalid", key: "LG_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "LG_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Client defaults.
	assert.Equal(t, "http://localhost:8080", cfg.Client.ServerURL)
	assert.Equal(t, "ws://localhost:8080", cfg.Client.WSURL)
	assert.Empty(t, cfg.Client.Token)
	assert.Equal(t, "alice", cfg.Client.AgentName)
	assert.Empty(t, cfg.Client.AgentID)
	assert.Equal(t, 15*time.Second, cfg.Client.HTTPTimeout)
	assert.Equal(t, 30*time.Second, cfg.Client.KeepaliveInterval)

	// Sim defaults.
	assert.Equal(t, ":8080", cfg.Sim.Addr)
	assert.Empty(t, cfg.Sim.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Sim.TokenTTL)
	assert.Equal(t, 2*time.Second, cfg.Sim.StepDelay)
	assert.Equal(t, float64(10), cfg.Sim.RatePerSecond)
	assert.Equal(t, 20, cfg.Sim.RateBurst)
	assert.Equal(t, 10*time.Second, cfg.Sim.ReadTimeout)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		// Client
		"LOOKINGGLASS_SERVER_URL":         "https://wonderland.example",
		"LOOKINGGLASS_WS_URL":             "wss://stream.wonderland.example",
		"LOOKINGGLASS_TOKEN":              "opaque-credential",
		"LOOKINGGLASS_AGENT_NAME":         "hatter",
		"LOOKINGGLASS_AGENT_ID":           "agent-7",
		"LOOKINGGLASS_HTTP_TIMEOUT":       "5s",
		"LOOKINGGLASS_KEEPALIVE_INTERVAL": "15s",
		// Sim
		"LOOKINGGLASS_SIM_ADDR":            ":9090",
		"LOOKINGGLASS_SIM_JWT_SECRET":      "sim-signing-secret",
		"LOOKINGGLASS_SIM_TOKEN_TTL":       "30m",
		"LOOKINGGLASS_SIM_STEP_DELAY":      "500ms",
		"LOOKINGGLASS_SIM_RATE_PER_SECOND": "2.5",
		"LOOKINGGLASS_SIM_RATE_BURST":      "5",
		"LOOKINGGLASS_SIM_READ_TIMEOUT":    "20s",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Client
	assert.Equal(t, "https://wonderland.example", cfg.Client.ServerURL)
	assert.Equal(t, "wss://stream.wonderland.example", cfg.Client.WSURL)
	assert.Equal(t, "opaque-credential", cfg.Client.Token)
	assert.Equal(t, "hatter", cfg.Client.AgentName)
	assert.Equal(t, "agent-7", cfg.Client.AgentID)
	assert.Equal(t, 5*time.Second, cfg.Client.HTTPTimeout)
	assert.Equal(t, 15*time.Second, cfg.Client.KeepaliveInterval)

	// Sim
	assert.Equal(t, ":9090", cfg.Sim.Addr)
	assert.Equal(t, "sim-signing-secret", cfg.Sim.JWTSecret)
	assert.Equal(t, 30*time.Minute, cfg.Sim.TokenTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Sim.StepDelay)
	assert.Equal(t, 2.5, cfg.Sim.RatePerSecond)
	assert.Equal(t, 5, cfg.Sim.RateBurst)
	assert.Equal(t, 20*time.Second, cfg.Sim.ReadTimeout)
}

// An https REST root derives a wss stream root when no explicit override is
// given.
func TestLoad_DerivesSecureWSURL(t *testing.T) {
	t.Setenv("LOOKINGGLASS_SERVER_URL", "https://wonderland.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://wonderland.example", cfg.Client.WSURL)
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		// Parse errors
		{name: "HTTP_TIMEOUT invalid", envKey: "LOOKINGGLASS_HTTP_TIMEOUT", envVal: "badval", errMsg: "LOOKINGGLASS_HTTP_TIMEOUT"},
		{name: "KEEPALIVE_INTERVAL invalid", envKey: "LOOKINGGLASS_KEEPALIVE_INTERVAL", envVal: "badval", errMsg: "LOOKINGGLASS_KEEPALIVE_INTERVAL"},
		{name: "SIM_TOKEN_TTL invalid", envKey: "LOOKINGGLASS_SIM_TOKEN_TTL", envVal: "notaduration", errMsg: "LOOKINGGLASS_SIM_TOKEN_TTL"},
		{name: "SIM_STEP_DELAY invalid", envKey: "LOOKINGGLASS_SIM_STEP_DELAY", envVal: "notaduration", errMsg: "LOOKINGGLASS_SIM_STEP_DELAY"},
		{name: "SIM_READ_TIMEOUT invalid", envKey: "LOOKINGGLASS_SIM_READ_TIMEOUT", envVal: "notaduration", errMsg: "LOOKINGGLASS_SIM_READ_TIMEOUT"},
		{name: "SIM_RATE_PER_SECOND not a number", envKey: "LOOKINGGLASS_SIM_RATE_PER_SECOND", envVal: "fast", errMsg: "LOOKINGGLASS_SIM_RATE_PER_SECOND"},
		{name: "SIM_RATE_BURST not a number", envKey: "LOOKINGGLASS_SIM_RATE_BURST", envVal: "many", errMsg: "LOOKINGGLASS_SIM_RATE_BURST"},

		// Validation errors (parse fine, fail bounds)
		{name: "HTTP_TIMEOUT zero", envKey: "LOOKINGGLASS_HTTP_TIMEOUT", envVal: "0s", errMsg: "LOOKINGGLASS_HTTP_TIMEOUT"},
		{name: "KEEPALIVE_INTERVAL negative", envKey: "LOOKINGGLASS_KEEPALIVE_INTERVAL", envVal: "-30s", errMsg: "LOOKINGGLASS_KEEPALIVE_INTERVAL"},
		{name: "SIM_RATE_PER_SECOND zero", envKey: "LOOKINGGLASS_SIM_RATE_PER_SECOND", envVal: "0", errMsg: "LOOKINGGLASS_SIM_RATE_PER_SECOND"},
		{name: "SIM_RATE_BURST zero", envKey: "LOOKINGGLASS_SIM_RATE_BURST", envVal: "0", errMsg: "LOOKINGGLASS_SIM_RATE_BURST"},
		{name: "WS_URL wrong scheme", envKey: "LOOKINGGLASS_WS_URL", envVal: "http://localhost:8080", errMsg: "LOOKINGGLASS_WS_URL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// deriveWSURL
// ---------------------------------------------------------------------------

func TestDeriveWSURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "http to ws", in: "http://localhost:8080", want: "ws://localhost:8080"},
		{name: "https to wss", in: "https://wonderland.example", want: "wss://wonderland.example"},
		{name: "unknown scheme passes through", in: "unix:///tmp/sock", want: "unix:///tmp/sock"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, deriveWSURL(tc.in))
		})
	}
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	// validBase returns a Config that passes validation.
	validBase := func() *Config {
		return &Config{
			Client: ClientConfig{
				ServerURL:         "http://localhost:8080",
				WSURL:             "ws://localhost:8080",
				HTTPTimeout:       15 * time.Second,
				KeepaliveInterval: 30 * time.Second,
			},
			Sim: SimConfig{
				RatePerSecond: 10,
				RateBurst:     20,
			},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("empty server URL fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Client.ServerURL = ""
		assert.ErrorContains(t, c.validate(), "LOOKINGGLASS_SERVER_URL")
	})

	t.Run("non-websocket WS URL fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Client.WSURL = "ftp://localhost"
		assert.ErrorContains(t, c.validate(), "LOOKINGGLASS_WS_URL")
	})

	t.Run("wss URL passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Client.WSURL = "wss://wonderland.example"
		assert.NoError(t, c.validate())
	})

	t.Run("HTTP timeout zero fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Client.HTTPTimeout = 0
		assert.ErrorContains(t, c.validate(), "LOOKINGGLASS_HTTP_TIMEOUT")
	})

	t.Run("keepalive interval negative fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Client.KeepaliveInterval = -time.Second
		assert.ErrorContains(t, c.validate(), "LOOKINGGLASS_KEEPALIVE_INTERVAL")
	})

	t.Run("rate per second zero fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Sim.RatePerSecond = 0
		assert.ErrorContains(t, c.validate(), "LOOKINGGLASS_SIM_RATE_PER_SECOND")
	})

	t.Run("rate burst zero fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Sim.RateBurst = 0
		assert.ErrorContains(t, c.validate(), "LOOKINGGLASS_SIM_RATE_BURST")
	})
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
