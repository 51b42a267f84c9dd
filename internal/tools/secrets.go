package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

// secretSummary is the value-free view of a secret used by listings and
// write confirmations. Secret values only ever leave through get_secret.
type secretSummary struct {
	Path      string            `json:"path"`
	Type      string            `json:"type,omitempty"`
	Version   int               `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type secretListing struct {
	VaultID string          `json:"vault_id"`
	Count   int             `json:"count"`
	Secrets []secretSummary `json:"secrets"`
}

func summarize(s *vaultapi.Secret) secretSummary {
	return secretSummary{
		Path:      s.Path,
		Type:      s.Type,
		Version:   s.Version,
		Metadata:  s.Metadata,
		UpdatedAt: s.UpdatedAt,
	}
}

func registerSecretTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("list_secrets",
			mcp.WithDescription("List the secrets in the agent's vault. Returns paths, types, "+
				"versions, and metadata only — never values. Use get_secret to read a value."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		d.wrap("list_secrets", d.listSecrets),
	)

	s.AddTool(
		mcp.NewTool("get_secret",
			mcp.WithDescription("Retrieve a secret's current value from the vault by its path "+
				"(e.g. 'db/password' or 'api-keys/stripe'). Returns the full record including "+
				"the value, type, version, and metadata."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Hierarchical secret path. Segments are separated by '/'."),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		d.wrap("get_secret", d.getSecret),
	)

	s.AddTool(
		mcp.NewTool("put_secret",
			mcp.WithDescription("Create or update a secret at a path. Writing to an existing "+
				"path stores a new version; previous versions are kept by the vault. Returns "+
				"the stored version without echoing the value."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Hierarchical secret path. Segments are separated by '/'."),
			),
			mcp.WithString("value",
				mcp.Required(),
				mcp.Description("The secret value to store."),
			),
			mcp.WithString("type",
				mcp.Description("Optional secret type hint, e.g. 'api_key', 'password', 'private_key'."),
			),
			mcp.WithObject("metadata",
				mcp.Description("Optional string key/value metadata attached to this version."),
			),
		),
		d.wrap("put_secret", d.putSecret),
	)

	s.AddTool(
		mcp.NewTool("delete_secret",
			mcp.WithDescription("Delete the secret at a path from the vault. Deleting a path "+
				"that does not exist reports an error; deleting the same path twice is safe "+
				"but the second call fails with not found."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Hierarchical secret path. Segments are separated by '/'."),
			),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(true),
		),
		d.wrap("delete_secret", d.deleteSecret),
	)
}

func (d *Deps) listSecrets(ctx context.Context, _ mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}

	secrets, err := api.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}

	listing := secretListing{
		VaultID: api.VaultID(),
		Count:   len(secrets),
		Secrets: make([]secretSummary, len(secrets)),
	}
	for i := range secrets {
		listing.Secrets[i] = summarize(&secrets[i])
	}
	return listing, nil
}

func (d *Deps) getSecret(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	path, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}

	secret, err := api.GetSecret(ctx, path)
	if err != nil {
		var apiErr *vaultapi.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusNotFound:
				return nil, &userError{
					msg: fmt.Sprintf("no secret stored at %q in vault %s", path, api.VaultID()),
					err: err,
				}
			case http.StatusGone:
				return nil, &userError{
					msg: fmt.Sprintf("the secret at %q has been deleted and is no longer retrievable", path),
					err: err,
				}
			}
		}
		return nil, err
	}
	return secret, nil
}

func (d *Deps) putSecret(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	path, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	value, err := req.RequireString("value")
	if err != nil {
		return nil, err
	}

	metadata, err := metadataFromArgs(req)
	if err != nil {
		return nil, err
	}

	secret, err := api.PutSecret(ctx, path, vaultapi.PutSecretRequest{
		Value:    value,
		Type:     req.GetString("type", ""),
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	d.Logger.InfoContext(ctx, "secret written",
		slog.String("vault_id", api.VaultID()),
		slog.String("path", path),
		slog.Int("version", secret.Version),
	)

	return summarize(secret), nil
}

func (d *Deps) deleteSecret(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	path, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}

	if err := api.DeleteSecret(ctx, path); err != nil {
		var apiErr *vaultapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, &userError{
				msg: fmt.Sprintf("no secret stored at %q in vault %s", path, api.VaultID()),
				err: err,
			}
		}
		return nil, err
	}

	d.Logger.InfoContext(ctx, "secret deleted",
		slog.String("vault_id", api.VaultID()),
		slog.String("path", path),
	)

	return fmt.Sprintf("Deleted the secret at %q from vault %s.", path, api.VaultID()), nil
}

// metadataFromArgs extracts the optional metadata object, requiring every
// value to be a string.
func metadataFromArgs(req mcp.CallToolRequest) (map[string]string, error) {
	raw, ok := req.GetArguments()["metadata"]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("metadata must be an object of string values")
	}

	metadata := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("metadata value for %q must be a string, got %T", k, v)
		}
		metadata[k] = s
	}
	return metadata, nil
}
