package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/audit"
	"github.com/jkaninda/hazina-mcp/internal/config"
)

// registerResources mounts the read-only MCP resources. The vault resources
// are local-only: they describe the one identity the process is bound to,
// which a hosted server does not have. The audit resource follows the
// recorder and is available whenever events land in a queryable store.
func registerResources(s *server.MCPServer, c *Components) {
	if c.Config.RunMode() == config.ModeLocal {
		s.AddResource(mcp.NewResource(
			"hazina://vault/info",
			"Vault connection info",
			mcp.WithResourceDescription("The vault id, agent identity, and upstream endpoint this server is bound to."),
			mcp.WithMIMEType("application/json"),
		), c.readVaultInfo)

		s.AddResource(mcp.NewResource(
			"hazina://vault/secrets",
			"Vault secret listing",
			mcp.WithResourceDescription("Metadata for every secret in the vault. Never includes values."),
			mcp.WithMIMEType("application/json"),
		), c.readVaultSecrets)
	}

	if store, ok := c.Recorder.(*audit.Store); ok {
		s.AddResource(mcp.NewResource(
			"hazina://audit/recent",
			"Recent audit events",
			mcp.WithResourceDescription("The most recent tool invocations recorded in the audit store, newest first."),
			mcp.WithMIMEType("application/json"),
		), c.readAuditRecent(store))
	}
}

func (c *Components) readVaultInfo(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	api, err := c.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}

	info := struct {
		Mode    string `json:"mode"`
		BaseURL string `json:"base_url"`
		VaultID string `json:"vault_id"`
		AgentID string `json:"agent_id,omitempty"`
		Version string `json:"server_version"`
	}{
		Mode:    c.Config.RunMode(),
		BaseURL: c.Config.API.BaseURL,
		VaultID: api.VaultID(),
		AgentID: api.AgentID(),
		Version: Version,
	}
	return jsonResource(req.Params.URI, info)
}

func (c *Components) readVaultSecrets(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	api, err := c.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	secrets, err := api.ListSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	for i := range secrets {
		secrets[i].Value = ""
	}
	return jsonResource(req.Params.URI, secrets)
}

func (c *Components) readAuditRecent(store *audit.Store) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		events, err := store.Query(ctx, audit.QueryFilter{})
		if err != nil {
			return nil, fmt.Errorf("querying audit store: %w", err)
		}
		return jsonResource(req.Params.URI, events)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
