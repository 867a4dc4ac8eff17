package lifecycle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickthorn/lookingglass/internal/domain"
	"github.com/quickthorn/lookingglass/internal/lifecycle"
)

func newClient(t *testing.T, baseURL, token string) *lifecycle.Client {
	t.Helper()

	client, err := lifecycle.New(lifecycle.Config{BaseURL: baseURL, Token: token})
	require.NoError(t, err)
	return client
}

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// ---------------------------------------------------------------------------
// Presets
// ---------------------------------------------------------------------------

func TestClient_Presets(t *testing.T) {
	t.Parallel()

	presetID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/presets", r.URL.Path)
		assert.Equal(t, "Bearer opaque-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"presets": []domain.GoalPreset{
				{ID: presetID, Title: "Chart the Gardens", Type: "visit_rooms", Target: 5},
			},
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")

	presets := client.Presets(context.Background())
	require.Len(t, presets, 1)
	assert.Equal(t, presetID, presets[0].ID)
	assert.Equal(t, "Chart the Gardens", presets[0].Title)
}

// Preset failures are never session-blocking: an unreachable server yields an
// empty catalog, not an error.
func TestClient_Presets_FailureYieldsEmptyCatalog(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")
	assert.Empty(t, client.Presets(context.Background()))

	server.Close()
	assert.Empty(t, client.Presets(context.Background()))
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestClient_Start(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sessions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["agent_name"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": sessionID,
			"goal": domain.ExplorationGoal{
				ID:     uuid.New(),
				Title:  "Chart the Gardens",
				Type:   "visit_rooms",
				Target: 5,
			},
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL, signedToken(t, time.Hour))

	result, err := client.Start(context.Background(), lifecycle.StartRequest{AgentName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, sessionID, result.SessionID)
	require.NotNil(t, result.Goal)
	assert.Equal(t, "Chart the Gardens", result.Goal.Title)
}

func TestClient_Start_ServerRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "agent_name is required"})
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")

	result, err := client.Start(context.Background(), lifecycle.StartRequest{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, lifecycle.ErrStartFailed)
	assert.Contains(t, err.Error(), "agent_name is required")
}

// A missing credential fails before any network traffic.
func TestClient_Start_NoToken(t *testing.T) {
	t.Parallel()

	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer server.Close()

	client := newClient(t, server.URL, "")

	_, err := client.Start(context.Background(), lifecycle.StartRequest{AgentName: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.False(t, called)
}

func TestClient_Start_ExpiredToken(t *testing.T) {
	t.Parallel()

	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer server.Close()

	client := newClient(t, server.URL, signedToken(t, -time.Hour))

	_, err := client.Start(context.Background(), lifecycle.StartRequest{AgentName: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.False(t, called)
}

// ---------------------------------------------------------------------------
// End
// ---------------------------------------------------------------------------

func TestClient_End(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/"+sessionID.String()+"/end", r.URL.Path)
		assert.Equal(t, "user_request", r.URL.Query().Get("reason"))
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")
	require.NoError(t, client.End(context.Background(), sessionID, "user_request"))
}

func TestClient_End_FailureIsReported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")
	assert.Error(t, client.End(context.Background(), uuid.New(), "user_request"))
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

func TestClient_Export(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/"+sessionID.String()+"/export", r.URL.Path)
		assert.Equal(t, "md", r.URL.Query().Get("format"))
		_ = json.NewEncoder(w).Encode(map[string]string{"content": "# Exploration transcript"})
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")

	content, err := client.Export(context.Background(), sessionID, "md")
	require.NoError(t, err)
	assert.Equal(t, "# Exploration transcript", content)
}

func TestClient_Export_Failure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	client := newClient(t, server.URL, "opaque-token")

	content, err := client.Export(context.Background(), uuid.New(), "md")
	require.Error(t, err)
	assert.ErrorIs(t, err, lifecycle.ErrExportFailed)
	assert.Empty(t, content)
}
