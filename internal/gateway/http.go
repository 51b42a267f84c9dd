package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/observability"
	"github.com/jkaninda/hazina-mcp/internal/session"
)

// HTTP serves the MCP protocol over streamable HTTP, the hosted topology's
// transport. Each connection carries its own vault credentials in headers;
// the context function moves them into the request context, where the
// session router picks them up.
type HTTP struct {
	mcpServer  *server.MCPServer
	components *Components
	logger     *slog.Logger
	httpServer *http.Server
}

// NewHTTP creates the streamable HTTP transport.
func NewHTTP(s *server.MCPServer, c *Components) *HTTP {
	return &HTTP{mcpServer: s, components: c, logger: c.Logger}
}

// Start launches the HTTP server and blocks until it exits or ctx is
// canceled.
func (g *HTTP) Start(ctx context.Context) error {
	cfg := g.components.Config
	obs := g.components.Obs
	addr := cfg.Server.Addr()
	mcpPath := cfg.Server.MCPPath()

	streamable := server.NewStreamableHTTPServer(g.mcpServer,
		server.WithHTTPContextFunc(credentialsFromRequest),
	)

	mux := http.NewServeMux()
	mux.Handle(mcpPath, streamable)
	g.mountObservability(mux)

	var handler http.Handler = mux
	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil) {
		var tracer trace.Tracer
		if obs.Tracer != nil {
			tracer = obs.Tracer.Tracer()
		}
		handler = observability.HTTPMetricsMiddleware(obs.Metrics, tracer, mux)
	}

	// No read or write timeout: MCP streaming responses hold the
	// connection open for as long as the session lasts.
	g.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting",
		slog.String("addr", addr),
		slog.String("mcp_path", mcpPath),
	)

	if err := g.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *HTTP) Stop(ctx context.Context) error {
	if g.httpServer == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.httpServer.Shutdown(ctx)
}

// mountObservability adds the probe and metrics endpoints. Probes answer
// even with observability disabled so orchestrators always have something
// to poll.
func (g *HTTP) mountObservability(mux *http.ServeMux) {
	obs := g.components.Obs

	if obs != nil && obs.Health != nil {
		mux.HandleFunc("/healthz", obs.Health.LivenessHandler())
		mux.HandleFunc("/readyz", obs.Health.ReadinessHandler())
	} else {
		static := func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}
		mux.HandleFunc("/healthz", static)
		mux.HandleFunc("/readyz", static)
	}

	if m := obs.MetricsOrNil(); m != nil {
		path := "/metrics"
		if cfg := g.components.Config.Observability; cfg != nil && cfg.Metrics != nil {
			path = cfg.Metrics.MetricsPath()
		}
		mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
}

// credentialsFromRequest copies the per-connection vault credentials from
// request headers into the context. Absent headers leave the context bare;
// the router reports the missing session when a tool call arrives.
func credentialsFromRequest(ctx context.Context, r *http.Request) context.Context {
	creds := session.Credentials{
		VaultID: r.Header.Get("X-Hazina-Vault-Id"),
		AgentID: r.Header.Get("X-Hazina-Agent-Id"),
	}

	const prefix = "bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) &&
		strings.EqualFold(auth[:len(prefix)], prefix) {
		creds.AccessToken = strings.TrimSpace(auth[len(prefix):])
	}

	if creds == (session.Credentials{}) {
		return ctx
	}
	return session.WithCredentials(ctx, creds)
}
