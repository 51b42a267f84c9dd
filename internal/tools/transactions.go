package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/hazina-mcp/internal/vaultapi"
)

func registerTransactionTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("simulate_transaction",
			mcp.WithDescription("Dry-run a single transaction with the agent's wallet identity "+
				"without broadcasting it. Returns whether it would succeed, the gas it would "+
				"use, and the revert reason when it would fail. Always simulate before "+
				"submitting."),
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("Destination address."),
			),
			mcp.WithString("value",
				mcp.Description("Amount to transfer, as a decimal string in the chain's base unit. Defaults to 0."),
			),
			mcp.WithString("data",
				mcp.Description("Optional hex-encoded call data."),
			),
			mcp.WithNumber("chain_id",
				mcp.Description("Target chain id. Omit to use the agent's default chain."),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		d.wrap("simulate_transaction", d.simulateTransaction),
	)

	s.AddTool(
		mcp.NewTool("simulate_bundle",
			mcp.WithDescription("Dry-run an ordered group of transactions as one atomic unit. "+
				"Results come back in submission order; the bundle fails as a whole when any "+
				"member fails. Use this to validate multi-step operations such as "+
				"approve-then-swap."),
			mcp.WithArray("transactions",
				mcp.Required(),
				mcp.Description("Ordered transaction objects, each with 'to' and optional 'value', 'data', 'chain_id'."),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"to":       map[string]any{"type": "string"},
						"value":    map[string]any{"type": "string"},
						"data":     map[string]any{"type": "string"},
						"chain_id": map[string]any{"type": "number"},
					},
					"required": []string{"to"},
				}),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		d.wrap("simulate_bundle", d.simulateBundle),
	)

	s.AddTool(
		mcp.NewTool("submit_transaction",
			mcp.WithDescription("Sign and broadcast a transaction with the agent's wallet "+
				"identity. This spends real funds and cannot be undone; simulate first with "+
				"simulate_transaction. Returns the submission receipt with the transaction "+
				"hash."),
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("Destination address."),
			),
			mcp.WithString("value",
				mcp.Description("Amount to transfer, as a decimal string in the chain's base unit. Defaults to 0."),
			),
			mcp.WithString("data",
				mcp.Description("Optional hex-encoded call data."),
			),
			mcp.WithNumber("chain_id",
				mcp.Description("Target chain id. Omit to use the agent's default chain."),
			),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithIdempotentHintAnnotation(false),
		),
		d.wrap("submit_transaction", d.submitTransaction),
	)
}

func transactionFromArgs(req mcp.CallToolRequest) (vaultapi.TransactionRequest, error) {
	to, err := req.RequireString("to")
	if err != nil {
		return vaultapi.TransactionRequest{}, err
	}
	return vaultapi.TransactionRequest{
		To:      to,
		Value:   req.GetString("value", ""),
		Data:    req.GetString("data", ""),
		ChainID: int64(req.GetInt("chain_id", 0)),
	}, nil
}

func (d *Deps) simulateTransaction(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := transactionFromArgs(req)
	if err != nil {
		return nil, err
	}
	return api.SimulateTransaction(ctx, tx)
}

func (d *Deps) simulateBundle(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}

	raw, ok := req.GetArguments()["transactions"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("required argument \"transactions\" not found")
	}
	var txs []vaultapi.TransactionRequest
	if err := decodeInto(raw, &txs); err != nil {
		return nil, fmt.Errorf("transactions must be an array of transaction objects: %w", err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transactions must not be empty")
	}
	for i, tx := range txs {
		if tx.To == "" {
			return nil, fmt.Errorf("transactions[%d] is missing 'to'", i)
		}
	}

	return api.SimulateBundle(ctx, vaultapi.BundleRequest{Transactions: txs})
}

func (d *Deps) submitTransaction(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	api, err := d.Router.Executor(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := transactionFromArgs(req)
	if err != nil {
		return nil, err
	}

	receipt, err := api.SubmitTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	d.Logger.InfoContext(ctx, "transaction submitted",
		slog.String("agent_id", api.AgentID()),
		slog.String("transaction_id", receipt.ID),
		slog.String("hash", receipt.Hash),
	)

	return receipt, nil
}

// decodeInto re-marshals a decoded JSON value into a typed destination.
// Tool arguments arrive as map[string]any trees; the round-trip applies the
// destination's field types and tags.
func decodeInto(raw, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
