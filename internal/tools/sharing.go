package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

func registerSharingTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("share_secret",
			mcp.WithDescription("Grant another agent access to a single secret. The grant is "+
				"scoped to the one secret, not the vault. Use ttl_seconds to make it expire; "+
				"omit it for a grant that lasts until revoked."),
			mcp.WithString("secret_id",
				mcp.Required(),
				mcp.Description("The id of the secret to share (from get_secret or list_secrets)."),
			),
			mcp.WithString("recipient_agent_id",
				mcp.Required(),
				mcp.Description("The agent id to grant access to."),
			),
			mcp.WithString("permission",
				mcp.Description("Access level: 'read' (default) or 'read_write'."),
			),
			mcp.WithNumber("ttl_seconds",
				mcp.Description("Optional lifetime of the grant in seconds. Zero or omitted means no expiry."),
			),
		),
		d.wrap("share_secret", d.shareSecret),
	)
}

func (d *Deps) shareSecret(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	secretID, err := req.RequireString("secret_id")
	if err != nil {
		return nil, err
	}
	recipient, err := req.RequireString("recipient_agent_id")
	if err != nil {
		return nil, err
	}

	permission := req.GetString("permission", "read")
	switch permission {
	case "read", "read_write":
	default:
		return nil, fmt.Errorf("permission must be 'read' or 'read_write', got %q", permission)
	}

	ttl := req.GetInt("ttl_seconds", 0)
	if ttl < 0 {
		return nil, fmt.Errorf("ttl_seconds must not be negative, got %d", ttl)
	}

	grant, err := api.ShareSecret(ctx, secretID, vaultapi.ShareSecretRequest{
		RecipientAgentID: recipient,
		Permission:       permission,
		TTLSeconds:       ttl,
	})
	if err != nil {
		return nil, err
	}

	d.Logger.InfoContext(ctx, "secret shared",
		slog.String("secret_id", secretID),
		slog.String("recipient_agent_id", recipient),
		slog.String("permission", permission),
	)

	return grant, nil
}
