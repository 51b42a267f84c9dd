// Package vaultapi implements the client for the Hazina agent-vault API:
// credential resolution with transparent token refresh, request execution,
// and the error taxonomy tool handlers branch on.
package vaultapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.hazina.dev"
	maxResponseBytes = 1 << 20 // 1 MB limit
)

// API is the executor surface the tool layer depends on: one method per
// upstream endpoint, plus read accessors for the bound identity and vault.
// Implemented by *Client.
type API interface {
	ListSecrets(ctx context.Context) ([]Secret, error)
	GetSecret(ctx context.Context, path string) (*Secret, error)
	PutSecret(ctx context.Context, path string, req PutSecretRequest) (*Secret, error)
	DeleteSecret(ctx context.Context, path string) error
	ListVaults(ctx context.Context) ([]Vault, error)
	CreateVault(ctx context.Context, req CreateVaultRequest) (*Vault, error)
	ShareSecret(ctx context.Context, secretID string, req ShareSecretRequest) (*ShareGrant, error)
	CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*Policy, error)
	SimulateTransaction(ctx context.Context, req TransactionRequest) (*Simulation, error)
	SimulateBundle(ctx context.Context, req BundleRequest) (*BundleSimulation, error)
	SubmitTransaction(ctx context.Context, req TransactionRequest) (*TransactionReceipt, error)
	AgentID() string
	VaultID() string
}

// Config selects the upstream identity and target vault for one executor.
// Exactly one credential form is required: AccessToken (a pre-issued bearer
// token, never refreshed) or AgentID plus APIKey (exchanged for short-lived
// tokens on demand). AgentID may also accompany AccessToken so the
// transaction endpoints stay reachable with a static token.
type Config struct {
	BaseURL     string
	VaultID     string
	AccessToken string
	AgentID     string
	APIKey      string
}

// Client executes calls against the Hazina API on behalf of one identity,
// scoped to one vault. Safe for concurrent use.
type Client struct {
	baseURL    string
	vaultID    string
	agentID    string
	source     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource overrides the token source derived from Config. The
// credential fields of Config are ignored when this is set.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.source = ts }
}

// NewClient creates an executor from the given credentials and vault scope.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.VaultID == "" {
		return nil, fmt.Errorf("vault id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		vaultID:    cfg.VaultID,
		agentID:    cfg.AgentID,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.source == nil {
		switch {
		case cfg.AccessToken != "":
			c.source = NewStaticTokenSource(cfg.AccessToken)
		case cfg.AgentID != "" && cfg.APIKey != "":
			ts := NewAgentTokenSource(c.baseURL, cfg.AgentID, cfg.APIKey, logger)
			ts.httpClient = c.httpClient
			c.source = ts
		default:
			return nil, fmt.Errorf("credentials are required: set an access token, or an agent id and API key")
		}
	}

	return c, nil
}

// AgentID returns the agent identity bound to this executor. Empty when it
// was constructed from a static token with no associated identity.
func (c *Client) AgentID() string { return c.agentID }

// VaultID returns the vault this executor is scoped to.
func (c *Client) VaultID() string { return c.vaultID }

// ListSecrets returns metadata for every secret in the vault. Values are
// never included in list responses.
func (c *Client) ListSecrets(ctx context.Context) ([]Secret, error) {
	var out []Secret
	if err := c.do(ctx, http.MethodGet, joinPath("v1", "vaults", c.vaultID, "secrets"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSecret reads the current version of the secret at path.
func (c *Client) GetSecret(ctx context.Context, path string) (*Secret, error) {
	var out Secret
	if err := c.do(ctx, http.MethodGet, c.secretPath(path), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutSecret writes a new version of the secret at path and returns the
// stored record.
func (c *Client) PutSecret(ctx context.Context, path string, req PutSecretRequest) (*Secret, error) {
	var out Secret
	if err := c.do(ctx, http.MethodPut, c.secretPath(path), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSecret removes the secret at path. The upstream answers 204.
func (c *Client) DeleteSecret(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, c.secretPath(path), nil, nil)
}

// ListVaults returns every vault visible to the calling identity.
func (c *Client) ListVaults(ctx context.Context) ([]Vault, error) {
	var out []Vault
	if err := c.do(ctx, http.MethodGet, joinPath("v1", "vaults"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateVault creates a new vault owned by the calling identity.
func (c *Client) CreateVault(ctx context.Context, req CreateVaultRequest) (*Vault, error) {
	var out Vault
	if err := c.do(ctx, http.MethodPost, joinPath("v1", "vaults"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ShareSecret grants another agent access to the secret with the given id.
func (c *Client) ShareSecret(ctx context.Context, secretID string, req ShareSecretRequest) (*ShareGrant, error) {
	var out ShareGrant
	if err := c.do(ctx, http.MethodPost, joinPath("v1", "secrets", secretID, "share"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePolicy attaches an access policy to the vault.
func (c *Client) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*Policy, error) {
	var out Policy
	if err := c.do(ctx, http.MethodPost, joinPath("v1", "vaults", c.vaultID, "policies"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SimulateTransaction dry-runs a single transaction against the agent's
// wallet without submitting it.
func (c *Client) SimulateTransaction(ctx context.Context, req TransactionRequest) (*Simulation, error) {
	path, err := c.agentPath("transactions", "simulate")
	if err != nil {
		return nil, err
	}
	var out Simulation
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SimulateBundle dry-runs an ordered group of transactions atomically.
func (c *Client) SimulateBundle(ctx context.Context, req BundleRequest) (*BundleSimulation, error) {
	path, err := c.agentPath("transactions", "simulate-bundle")
	if err != nil {
		return nil, err
	}
	var out BundleSimulation
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTransaction submits a transaction for execution.
func (c *Client) SubmitTransaction(ctx context.Context, req TransactionRequest) (*TransactionReceipt, error) {
	path, err := c.agentPath("transactions")
	if err != nil {
		return nil, err
	}
	var out TransactionReceipt
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one upstream call: resolve the token, issue the request, and
// map the outcome. in is marshaled as the JSON body when non-nil; the
// response body is decoded into out except on 204, which is a bodyless
// success. Failures follow the package taxonomy: *TransportError before a
// status is known, *APIError on non-2xx, a plain decode error on a
// malformed success body. Nothing is retried.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.source.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Err: err}
	}

	c.logger.DebugContext(ctx, "hazina api call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp.StatusCode, respBody)
	}

	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response body: %w", err)
	}
	return nil
}

// secretPath builds the path for one secret. The secret's own path may
// contain slashes ("prod/db/password"); each slash-delimited component is
// encoded on its own so separators survive while the characters within a
// component do not corrupt the URL.
func (c *Client) secretPath(path string) string {
	segments := []string{"v1", "vaults", c.vaultID, "secrets"}
	segments = append(segments, strings.Split(path, "/")...)
	return joinPath(segments...)
}

// agentPath builds a path under the configured agent identity. Transaction
// endpoints are addressed by agent, not by vault, so an identity must be
// known.
func (c *Client) agentPath(parts ...string) (string, error) {
	if c.agentID == "" {
		return "", fmt.Errorf("agent id is required for transaction endpoints (set HAZINA_AGENT_ID, or the X-Hazina-Agent-Id header in hosted mode)")
	}
	segments := append([]string{"v1", "agents", c.agentID}, parts...)
	return joinPath(segments...), nil
}

// joinPath percent-encodes each segment independently and joins them with
// "/".
func joinPath(segments ...string) string {
	encoded := make([]string, len(segments))
	for i, s := range segments {
		encoded[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(encoded, "/")
}

var _ API = (*Client)(nil)
