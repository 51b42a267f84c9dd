package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

func registerVaultTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_vault",
			mcp.WithDescription("Create a new vault owned by the calling agent. Returns the "+
				"new vault's id; pass it as vault_id when connecting a session that should "+
				"operate on it."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Human-readable vault name."),
			),
			mcp.WithString("description",
				mcp.Description("Optional description of what the vault holds."),
			),
		),
		d.wrap("create_vault", d.createVault),
	)

	s.AddTool(
		mcp.NewTool("list_vaults",
			mcp.WithDescription("List the vaults the calling agent can access, including "+
				"vaults shared with it."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		d.wrap("list_vaults", d.listVaults),
	)
}

func (d *Deps) createVault(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	name, err := req.RequireString("name")
	if err != nil {
		return nil, err
	}

	vault, err := api.CreateVault(ctx, vaultapi.CreateVaultRequest{
		Name:        name,
		Description: req.GetString("description", ""),
	})
	if err != nil {
		return nil, err
	}

	d.Logger.InfoContext(ctx, "vault created",
		slog.String("vault_id", vault.ID),
		slog.String("name", vault.Name),
	)

	return vault, nil
}

func (d *Deps) listVaults(ctx context.Context, _ mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	vaults, err := api.ListVaults(ctx)
	if err != nil {
		return nil, err
	}
	return struct {
		Count  int              `json:"count"`
		Vaults []vaultapi.Vault `json:"vaults"`
	}{Count: len(vaults), Vaults: vaults}, nil
}
