// Package tools exposes the Hazina vault operations as MCP tools.
// Every handler resolves its executor through the session router, so the
// same registration serves both topologies: local stdio with one process
// identity, hosted HTTP with per-session credentials.
//
// Handlers return domain values or errors; the wrap middleware turns them
// into tool results, enforces the per-session rate limit, records the
// audit trail, and keeps metrics. Domain failures become error results the
// model can read and react to — a handler returning a non-nil Go error to
// the MCP layer would surface as a protocol fault instead.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/audit"
	"github.com/jkaninda/hazina-mcp/internal/observability"
	"github.com/jkaninda/hazina-mcp/internal/ratelimit"
	"github.com/jkaninda/hazina-mcp/internal/session"
	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

// localLimiterKey buckets all local-mode calls together; stdio serves a
// single caller so one shared bucket is the right scope.
const localLimiterKey = "local"

// Deps carries everything the tool handlers need. Limiter, Recorder, and
// Metrics may be nil; handlers and middleware skip them when unset.
type Deps struct {
	Router   *session.Router
	Limiter  *ratelimit.Limiter
	Recorder audit.Recorder
	Metrics  *observability.MetricsCollector
	Logger   *slog.Logger
	Topology string // "local" or "hosted", stamped on audit events
}

// AddTools registers every vault tool on the MCP server.
func AddTools(s *server.MCPServer, d *Deps) {
	registerSecretTools(s, d)
	registerVaultTools(s, d)
	registerSharingTools(s, d)
	registerPolicyTools(s, d)
	registerTransactionTools(s, d)
}

// handlerFunc is the inner handler contract: return a value to render as
// the tool result, or an error for the middleware to classify.
type handlerFunc func(ctx context.Context, req mcp.CallToolRequest) (any, error)

// wrap builds the middleware chain around one tool handler: rate limit,
// execute, classify errors, audit, metrics.
func (d *Deps) wrap(tool string, h handlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		sessionID := sessionIDFromContext(ctx)

		if d.Limiter != nil {
			if err := d.Limiter.Allow(limiterKey(sessionID)); err != nil {
				if d.Metrics != nil {
					d.Metrics.RateLimitedTotal.WithLabelValues(tool).Inc()
					d.Metrics.ToolCallsTotal.WithLabelValues(tool, "rate_limited").Inc()
				}
				d.recordAudit(ctx, tool, sessionID, audit.OutcomeRateLimited, 0, err.Error(), start)
				return mcp.NewToolResultError("rate limit exceeded: slow down and retry shortly"), nil
			}
		}

		out, err := h(ctx, req)
		duration := time.Since(start)

		if err != nil {
			status := 0
			var apiErr *vaultapi.APIError
			if errors.As(err, &apiErr) {
				status = apiErr.StatusCode
			}
			outcome := audit.OutcomeError
			if errors.Is(err, session.ErrNoSession) {
				outcome = audit.OutcomeDenied
			}

			if d.Metrics != nil {
				d.Metrics.ToolCallsTotal.WithLabelValues(tool, "error").Inc()
				d.Metrics.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
			}
			d.recordAudit(ctx, tool, sessionID, outcome, status, err.Error(), start)
			d.Logger.DebugContext(ctx, "tool call failed",
				slog.String("tool", tool),
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}

		if d.Metrics != nil {
			d.Metrics.ToolCallsTotal.WithLabelValues(tool, "success").Inc()
			d.Metrics.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
		}
		d.recordAudit(ctx, tool, sessionID, audit.OutcomeOK, 0, "", start)

		text, err := renderResult(out)
		if err != nil {
			return nil, fmt.Errorf("rendering %s result: %w", tool, err)
		}
		return mcp.NewToolResultText(text), nil
	}
}

// recordAudit appends one audit event. Recorder failures are logged, never
// propagated — a broken audit backend must not take the vault tools down.
func (d *Deps) recordAudit(ctx context.Context, tool, sessionID, outcome string, status int, detail string, start time.Time) {
	if d.Recorder == nil {
		return
	}

	event := audit.Event{
		Topology:   d.Topology,
		SessionID:  sessionID,
		Tool:       tool,
		Outcome:    outcome,
		StatusCode: status,
		Detail:     detail,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if api, err := d.Router.Executor(ctx); err == nil {
		event.VaultID = api.VaultID()
		event.AgentID = api.AgentID()
	}

	if err := d.Recorder.Record(ctx, event); err != nil {
		d.Logger.WarnContext(ctx, "audit record failed",
			slog.String("tool", tool),
			slog.String("error", err.Error()),
		)
	}
}

// renderResult turns a handler's return value into the tool result text.
// Strings pass through; everything else is marshaled as indented JSON.
func renderResult(out any) (string, error) {
	if s, ok := out.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sessionIDFromContext(ctx context.Context) string {
	if s := server.ClientSessionFromContext(ctx); s != nil {
		return s.SessionID()
	}
	return ""
}

func limiterKey(sessionID string) string {
	if sessionID == "" {
		return localLimiterKey
	}
	return sessionID
}

// userError carries a message written for the calling model while keeping
// the upstream error reachable for classification and auditing.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.err }
