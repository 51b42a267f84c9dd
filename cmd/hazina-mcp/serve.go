package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/hazina-mcp/internal/config"
	"github.com/jkaninda/hazina-mcp/internal/gateway"
)

var (
	serveConfigPath string
	serveMode       string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio in local mode, HTTP in hosted mode)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `hazina-mcp --config path` and `hazina-mcp serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveMode, "mode", "", "override run mode (local or hosted)")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	// Flag overrides beat env and file, so apply them through the
	// environment before Load reads it.
	if serveMode != "" {
		_ = os.Setenv("HAZINA_MODE", serveMode)
	}
	if serveListenAddr != "" {
		_ = os.Setenv("HAZINA_LISTEN_ADDR", serveListenAddr)
	}

	cfg, err := config.Load(goutils.Env("HAZINA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Stdout belongs to the MCP protocol in local mode; logs go to stderr
	// in both topologies.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	logger.Info("starting hazina-mcp",
		slog.String("version", version),
		slog.String("mode", cfg.RunMode()),
	)

	gateway.Version = version
	gw, components, err := gateway.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway exit.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errs:
		if runErr != nil {
			logger.Error("gateway exited with error", slog.String("error", runErr.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	return runErr
}
