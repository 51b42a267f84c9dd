package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

// Stdio serves the MCP protocol over standard input and output, the local
// topology's transport. Stdout belongs to the protocol; all logging must go
// to stderr.
type Stdio struct {
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewStdio creates the stdio transport.
func NewStdio(s *server.MCPServer, logger *slog.Logger) *Stdio {
	return &Stdio{mcpServer: s, logger: logger}
}

// Start serves until stdin closes or the context is canceled. The client
// closing stdin is the normal way a stdio session ends, so EOF is a clean
// exit.
func (g *Stdio) Start(ctx context.Context) error {
	g.logger.Info("stdio gateway starting")

	err := server.NewStdioServer(g.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop is a no-op: Listen exits with the context passed to Start.
func (g *Stdio) Stop(context.Context) error {
	g.logger.Info("stdio gateway stopping")
	return nil
}
