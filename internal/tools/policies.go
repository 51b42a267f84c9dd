package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

func registerPolicyTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_policy",
			mcp.WithDescription("Attach an access policy to the session's vault. Rules are "+
				"passed through to the vault service as-is and evaluated there; this tool "+
				"does not interpret them."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Policy name, unique within the vault."),
			),
			mcp.WithObject("rules",
				mcp.Required(),
				mcp.Description("Policy rules object, e.g. {\"max_reads_per_hour\": 100, \"allowed_paths\": [\"db/*\"]}."),
			),
		),
		d.wrap("create_policy", d.createPolicy),
	)
}

func (d *Deps) createPolicy(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	name, err := req.RequireString("name")
	if err != nil {
		return nil, err
	}

	raw, ok := req.GetArguments()["rules"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("required argument \"rules\" not found")
	}
	rules, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rules must be an object")
	}

	policy, err := api.CreatePolicy(ctx, vaultapi.CreatePolicyRequest{
		Name:  name,
		Rules: rules,
	})
	if err != nil {
		return nil, err
	}

	d.Logger.InfoContext(ctx, "policy created",
		slog.String("vault_id", api.VaultID()),
		slog.String("policy_id", policy.ID),
		slog.String("name", name),
	)

	return policy, nil
}
