package vaultapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// refreshBuffer is how long before its actual expiry a cached access token
// is treated as stale and re-exchanged.
const refreshBuffer = 60 * time.Second

// tokenPath is the unauthenticated agent-token exchange endpoint.
const tokenPath = "/v1/auth/agent-token"

// TokenSource yields the bearer token for upstream requests.
// Implementations must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed, pre-issued token on every call. It
// never contacts the exchange endpoint and tracks no expiry.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource wraps an already-valid bearer token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(context.Context) (string, error) { return s.token, nil }

// AgentTokenSource exchanges a stable agent identity and API key for
// short-lived access tokens via POST /v1/auth/agent-token, caching the
// result until it falls within the refresh buffer of expiry. The mutex is
// held across the exchange, so concurrent callers wait for one refresh and
// reuse its result rather than racing their own; a cached token is never
// observed half-replaced.
type AgentTokenSource struct {
	baseURL    string
	agentID    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAgentTokenSource creates a refreshing token source for the given agent
// identity.
func NewAgentTokenSource(baseURL, agentID, apiKey string, logger *slog.Logger) *AgentTokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentTokenSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		agentID:    agentID,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		logger:     logger,
		now:        time.Now,
	}
}

// AgentID returns the identity this source exchanges tokens for.
func (s *AgentTokenSource) AgentID() string { return s.agentID }

// WithHTTPClient sets the HTTP client used for exchange requests and
// returns the source for chaining.
func (s *AgentTokenSource) WithHTTPClient(hc *http.Client) *AgentTokenSource {
	if hc != nil {
		s.httpClient = hc
	}
	return s
}

// Token returns the cached access token, exchanging for a new one when none
// is cached or the cached one expires within the refresh buffer.
func (s *AgentTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(refreshBuffer).Before(s.expiresAt) {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// refreshLocked performs the exchange call. Callers must hold s.mu.
func (s *AgentTokenSource) refreshLocked(ctx context.Context) (string, error) {
	payload, err := json.Marshal(tokenRequest{AgentID: s.agentID, APIKey: s.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshaling token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: &TransportError{Err: err}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &AuthError{Err: &TransportError{Err: err}}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{Err: errorFromResponse(resp.StatusCode, body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &AuthError{Err: fmt.Errorf("parsing token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("token response missing access_token")}
	}

	s.token = tr.AccessToken
	s.expiresAt = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	s.logger.DebugContext(ctx, "access token refreshed",
		slog.String("agent_id", s.agentID),
		slog.Time("expires_at", s.expiresAt),
	)

	return s.token, nil
}

// --- agent-token exchange wire types (unexported) ---

type tokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}
