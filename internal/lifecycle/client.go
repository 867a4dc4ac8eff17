// Package lifecycle implements the REST side of the Wonderland session
// protocol: preset catalog, session creation, best-effort end, and transcript
// export. The live event stream is handled separately by internal/stream.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quickthorn/lookingglass/internal/domain"
)

// Sentinel errors for lifecycle calls.
var (
	// ErrStartFailed is returned when the server rejects session creation.
	ErrStartFailed = errors.New("lifecycle: session start failed")
	// ErrExportFailed is returned when a transcript export cannot be produced.
	ErrExportFailed = errors.New("lifecycle: export failed")
)

const defaultTimeout = 15 * time.Second

// Config holds settings for creating a lifecycle Client.
type Config struct {
	// BaseURL is the root URL of the Wonderland API, e.g. "http://localhost:8080".
	BaseURL string

	// Token is the bearer credential attached to every request. Required for
	// Start; a missing or expired token fails fast with ErrNotAuthenticated
	// before touching the network.
	Token string

	// HTTPClient is used for all requests. Defaults to a client with a 15s
	// timeout.
	HTTPClient *http.Client
}

// Client is a typed Wonderland lifecycle API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a lifecycle Client from the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("lifecycle.New: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// SetToken replaces the bearer credential used for subsequent calls.
func (c *Client) SetToken(token string) { c.token = token }

// checkCredential fails fast when no usable token is present. Tokens that
// parse as JWTs are additionally checked for expiry; opaque tokens are
// accepted as-is and left for the server to judge.
func (c *Client) checkCredential() error {
	if c.token == "" {
		return fmt.Errorf("lifecycle.Client: %w", domain.ErrNotAuthenticated)
	}

	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(c.token, &claims)
	if err != nil {
		return nil // opaque token
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("lifecycle.Client: token expired: %w", domain.ErrNotAuthenticated)
	}
	return nil
}

// presetsResponse mirrors GET /api/presets.
type presetsResponse struct {
	Presets []domain.GoalPreset `json:"presets"`
}

// Presets fetches the goal preset catalog. Presets are optional UX and never
// session-blocking: any failure is logged and an empty catalog returned.
func (c *Client) Presets(ctx context.Context) []domain.GoalPreset {
	var resp presetsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/presets", nil, http.StatusOK, &resp); err != nil {
		log.Warn().Err(err).Msg("lifecycle: preset fetch failed, continuing without presets")
		return nil
	}
	return resp.Presets
}

// StartRequest holds the fields of a session creation call.
type StartRequest struct {
	AgentName    string     `json:"agent_name"`
	AgentID      string     `json:"agent_id,omitempty"`
	GoalPresetID *uuid.UUID `json:"goal_preset,omitempty"`
}

// StartResult is the successful outcome of a session creation call.
type StartResult struct {
	SessionID uuid.UUID               `json:"session_id"`
	Goal      *domain.ExplorationGoal `json:"goal,omitempty"` // set when the server seeded a goal immediately
}

// errorResponse mirrors the server's 4xx/5xx body.
type errorResponse struct {
	Detail string `json:"detail"`
}

// Start creates a new exploration session. Returns ErrNotAuthenticated when
// no credential is present and ErrStartFailed (with the server detail) when
// creation is rejected.
func (c *Client) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}

	var result StartResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", req, http.StatusCreated, &result); err != nil {
		return nil, fmt.Errorf("lifecycle.Client.Start: %w: %w", ErrStartFailed, err)
	}
	return &result, nil
}

// End requests server-side session closure. Best effort: the caller's local
// view of "ended" is authoritative, so failures here are reported but never
// block local teardown.
func (c *Client) End(ctx context.Context, sessionID uuid.UUID, reason string) error {
	path := fmt.Sprintf("/api/sessions/%s/end?reason=%s", sessionID, url.QueryEscape(reason))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("lifecycle.Client.End: %w", err)
	}
	return nil
}

// exportResponse mirrors GET /api/sessions/{id}/export.
type exportResponse struct {
	Content string `json:"content"`
}

// Export requests a rendered transcript in the given format ("md" or "json").
func (c *Client) Export(ctx context.Context, sessionID uuid.UUID, format string) (string, error) {
	path := fmt.Sprintf("/api/sessions/%s/export?format=%s", sessionID, url.QueryEscape(format))

	var resp exportResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return "", fmt.Errorf("lifecycle.Client.Export: %w: %w", ErrExportFailed, err)
	}
	return resp.Content, nil
}

// doJSON performs one round trip: marshals body (if any), attaches the bearer
// token, checks the expected status, and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var errResp errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Detail != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errResp.Detail)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
