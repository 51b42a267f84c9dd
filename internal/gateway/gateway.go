// Package gateway assembles the MCP server and its transports.
//
// Two topologies share one tool registration:
//   - local: stdio transport, one process-wide identity from config,
//     credential validation fails fast at startup
//   - hosted: streamable HTTP transport, per-session credentials from
//     request headers, nothing shared between sessions
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jkaninda/hazina-mcp/internal/audit"
	"github.com/jkaninda/hazina-mcp/internal/config"
	"github.com/jkaninda/hazina-mcp/internal/observability"
	"github.com/jkaninda/hazina-mcp/internal/ratelimit"
	"github.com/jkaninda/hazina-mcp/internal/session"
	"github.com/jkaninda/hazina-mcp/internal/tools"
	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

// Gateway is a serving transport for the MCP server.
type Gateway interface {
	// Start launches the transport's serve loop and blocks until it exits
	// or the context is canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries a deadline for
	// the grace period. In-flight requests should drain before returning.
	Stop(ctx context.Context) error
}

// Components holds the initialized subsystems behind a running gateway.
// Built once by Build, torn down by Cleanup.
type Components struct {
	Config   *config.Config
	Logger   *slog.Logger
	Obs      *observability.Observability
	Recorder audit.Recorder
	Limiter  *ratelimit.Limiter
	Router   *session.Router

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *Components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *Components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// Build initializes every subsystem the configured topology needs and
// returns the gateway to run. Callers must call Components.Cleanup when
// done.
func Build(cfg *config.Config, logger *slog.Logger) (Gateway, *Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	c.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	recorder, err := audit.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing audit trail: %w", err)
	}
	c.Recorder = recorder
	if recorder != nil {
		c.addCleanup(func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("closing audit recorder", slog.String("error", err.Error()))
			}
		})
		logger.Debug("audit trail initialized", slog.String("driver", cfg.Audit.AuditDriver()))
	}

	if cfg.RateLimit.RequestsPerMinute > 0 {
		c.Limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
		logger.Debug("rate limiter initialized",
			slog.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute),
		)
	}

	registerHealthChecks(c)

	var gw Gateway
	switch cfg.RunMode() {
	case config.ModeLocal:
		router, err := buildLocalRouter(cfg, obs, logger)
		if err != nil {
			return nil, nil, err
		}
		c.Router = router
		gw = NewStdio(newMCPServer(c), logger)

	case config.ModeHosted:
		c.Router = session.NewPerSession(executorFactory(cfg, obs, logger), logger)
		gw = NewHTTP(newMCPServer(c), c)

	default:
		return nil, nil, fmt.Errorf("mode %q is not supported (use local or hosted)", cfg.RunMode())
	}

	logger.Info("gateway configured",
		slog.String("mode", cfg.RunMode()),
		slog.Bool("audit", recorder != nil),
		slog.Bool("rate_limit", c.Limiter != nil),
	)
	return gw, c, nil
}

// buildLocalRouter resolves the process-wide executor for local mode. The
// client constructor validates credentials, so a missing or malformed
// identity aborts startup here rather than failing the first tool call.
func buildLocalRouter(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (*session.Router, error) {
	httpClient := &http.Client{Timeout: cfg.API.Timeout()}

	opts := []vaultapi.Option{vaultapi.WithHTTPClient(httpClient)}
	if cfg.API.AccessToken == "" && cfg.API.AgentID != "" && cfg.API.APIKey != "" {
		source := vaultapi.NewAgentTokenSource(cfg.API.BaseURL, cfg.API.AgentID, cfg.API.APIKey, logger).
			WithHTTPClient(httpClient)
		opts = append(opts, vaultapi.WithTokenSource(
			observability.NewInstrumentedTokenSource(source, obs.MetricsOrNil()),
		))
	}

	client, err := vaultapi.NewClient(vaultapi.Config{
		BaseURL:     cfg.API.BaseURL,
		VaultID:     cfg.API.VaultID,
		AccessToken: cfg.API.AccessToken,
		AgentID:     cfg.API.AgentID,
		APIKey:      cfg.API.APIKey,
	}, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("building vault executor: %w", err)
	}

	return session.NewSingle(instrument(client, obs), logger), nil
}

// executorFactory builds one executor per hosted session from the
// credentials its connection supplied.
func executorFactory(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) session.Factory {
	return func(creds session.Credentials) (vaultapi.API, error) {
		client, err := vaultapi.NewClient(vaultapi.Config{
			BaseURL:     cfg.API.BaseURL,
			VaultID:     creds.VaultID,
			AccessToken: creds.AccessToken,
			AgentID:     creds.AgentID,
		}, logger, vaultapi.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout()}))
		if err != nil {
			return nil, err
		}
		return instrument(client, obs), nil
	}
}

// instrument wraps an executor with metrics, tracing, and anomaly
// detection when observability is enabled.
func instrument(api vaultapi.API, obs *observability.Observability) vaultapi.API {
	if obs == nil {
		return api
	}
	if obs.Metrics == nil && obs.Tracer == nil && obs.Anomaly == nil {
		return api
	}
	return observability.NewInstrumentedAPI(api, obs.Metrics, obs.Tracer, obs.Anomaly)
}

// registerHealthChecks wires the readiness probes: the audit store when it
// is a database, and the upstream API when the config opts in.
func registerHealthChecks(c *Components) {
	if c.Obs == nil || c.Obs.Health == nil {
		return
	}

	if store, ok := c.Recorder.(*audit.Store); ok {
		c.Obs.Health.AddCheck("audit_store", store.Ping)
	}

	cfg := c.Config
	if cfg.Observability != nil && cfg.Observability.Health != nil &&
		cfg.Observability.Health.IncludeUpstream && cfg.RunMode() == config.ModeLocal {
		c.Obs.Health.AddCheck("hazina_api", func(ctx context.Context) error {
			api, err := c.Router.Executor(ctx)
			if err != nil {
				return err
			}
			_, err = api.ListVaults(ctx)
			return err
		})
	}
}

// deps bundles the tool-layer dependencies for the configured topology.
func (c *Components) deps() *tools.Deps {
	d := &tools.Deps{
		Router:   c.Router,
		Limiter:  c.Limiter,
		Recorder: c.Recorder,
		Logger:   c.Logger,
		Topology: c.Config.RunMode(),
	}
	if c.Obs != nil {
		d.Metrics = c.Obs.Metrics
	}
	return d
}
