// Package session binds inbound MCP sessions to vault API executors. In
// local mode every call routes to one executor built at startup; in hosted
// mode each MCP session gets its own executor, built on first use from the
// credentials that session presented and dropped when the session ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

// ErrNoSession is returned when a call carries no session credentials and
// no global identity is configured. It is an authentication failure of the
// inbound connection, distinct from any upstream API error.
var ErrNoSession = errors.New("no credentials for this session and no global identity configured")

// Credentials are the per-connection values parsed from inbound HTTP
// headers in hosted mode. AgentID is optional; without it the transaction
// tools are unavailable for the session.
type Credentials struct {
	AccessToken string
	VaultID     string
	AgentID     string
}

type contextKey string

const credentialsKey contextKey = "hazina_session_credentials"

// WithCredentials stashes per-connection credentials in ctx. The gateway's
// HTTP context function calls this before the MCP server dispatches the
// request.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey, creds)
}

// CredentialsFromContext extracts credentials stored by WithCredentials.
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey).(Credentials)
	return creds, ok
}

// Factory builds an executor for one session's credentials.
type Factory func(creds Credentials) (vaultapi.API, error)

// Router resolves the executor for a tool call. Exactly one of global or
// factory is set, fixed at construction.
type Router struct {
	global  vaultapi.API
	factory Factory
	logger  *slog.Logger

	mu        sync.RWMutex
	executors map[string]vaultapi.API
}

// NewSingle routes every call to one pre-built executor (local topology).
func NewSingle(api vaultapi.API, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{global: api, logger: logger}
}

// NewPerSession builds executors on first use from each session's
// credentials (hosted topology).
func NewPerSession(factory Factory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		factory:   factory,
		logger:    logger,
		executors: make(map[string]vaultapi.API),
	}
}

// Executor returns the executor bound to the session carried by ctx. In
// hosted mode a session's first call constructs its executor; later calls
// reuse it. Two sessions never share an executor, so one session's token
// state is invisible to every other.
func (r *Router) Executor(ctx context.Context) (vaultapi.API, error) {
	if r.global != nil {
		return r.global, nil
	}

	sess := server.ClientSessionFromContext(ctx)
	if sess == nil {
		return nil, ErrNoSession
	}
	id := sess.SessionID()

	r.mu.RLock()
	api, ok := r.executors[id]
	r.mu.RUnlock()
	if ok {
		return api, nil
	}

	creds, ok := CredentialsFromContext(ctx)
	if !ok || creds.AccessToken == "" || creds.VaultID == "" {
		return nil, ErrNoSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if api, ok := r.executors[id]; ok {
		// Another call on this session won the race; reuse its executor.
		return api, nil
	}

	api, err := r.factory(creds)
	if err != nil {
		return nil, fmt.Errorf("building session executor: %w", err)
	}
	r.executors[id] = api

	r.logger.DebugContext(ctx, "session executor created",
		slog.String("session_id", id),
		slog.String("vault_id", creds.VaultID),
	)
	return api, nil
}

// Drop removes the executor for a finished session. No-op for unknown ids
// and in local mode.
func (r *Router) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, sessionID)
}

// Len reports the number of live session executors.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
