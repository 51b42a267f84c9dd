package gateway

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/tools"
)

// Version is stamped by the main package at build time.
var Version = "dev"

const serverName = "hazina-mcp"

const serverInstructions = `This server exposes a Hazina agent vault: encrypted secret storage,
secret sharing between agents, vault access policies, and wallet transaction
simulation and submission.

Secret values only leave through get_secret; listings carry metadata alone.
Always run simulate_transaction (or simulate_bundle for multi-step plans)
before submit_transaction, since submitted transactions spend real funds and
cannot be recalled.`

// newMCPServer builds the MCP server both transports serve: tool and
// resource registration plus the session lifecycle hooks that keep the
// router, limiter, and session gauge in step with connections.
func newMCPServer(c *Components) *server.MCPServer {
	s := server.NewMCPServer(serverName, Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
		server.WithHooks(c.sessionHooks()),
	)

	tools.AddTools(s, c.deps())
	registerResources(s, c)
	return s
}

// sessionHooks ties session lifecycle to per-session state. Dropping the
// executor and rate-limit bucket on unregister is what keeps hosted
// credentials from outliving their connection.
func (c *Components) sessionHooks() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		if m := c.Obs.MetricsOrNil(); m != nil {
			m.ActiveSessions.Inc()
		}
		c.Logger.DebugContext(ctx, "mcp session registered",
			slog.String("session_id", session.SessionID()),
		)
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		id := session.SessionID()
		c.Router.Drop(id)
		if c.Limiter != nil {
			c.Limiter.Remove(id)
		}
		if m := c.Obs.MetricsOrNil(); m != nil {
			m.ActiveSessions.Dec()
		}
		c.Logger.DebugContext(ctx, "mcp session closed",
			slog.String("session_id", id),
		)
	})

	return hooks
}
