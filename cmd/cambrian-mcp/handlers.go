package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cambrianlabs/cambrian-mcp/internal/catalog"
	"github.com/cambrianlabs/cambrian-mcp/internal/common"
	"github.com/cambrianlabs/cambrian-mcp/internal/pricing"
	"github.com/cambrianlabs/cambrian-mcp/internal/purchase"
)

// toolDeps bundles the shared collaborators the tool handlers need.
type toolDeps struct {
	serverName   string
	catalog      *catalog.Catalog
	projector    *pricing.Projector
	orchestrator *purchase.Orchestrator
	wallet       string
	logger       *common.Logger
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}

// jsonResult marshals v with indentation and returns it as a text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Error encoding response: %v", err)), nil
	}
	return textResult(string(data)), nil
}

// decodeParams accepts the params argument as either a JSON object or a JSON
// string (some MCP clients serialize nested objects as strings).
func decodeParams(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(v), &params); err != nil {
			return nil, fmt.Errorf("params is not a valid JSON object: %w", err)
		}
		return params, nil
	default:
		return nil, fmt.Errorf("params must be a JSON object, got %T", raw)
	}
}

// --- Handlers ---

func handleGetVersion(d *toolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := fmt.Sprintf("%s\nVersion: %s\nCatalog: %d endpoints\nStatus: OK",
			d.serverName, common.GetVersion(), d.catalog.Len())
		return textResult(result), nil
	}
}

func handlePricingListing(d *toolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := request.GetString("search_query", "")

		items := d.projector.Project(d.catalog.Search(query))

		d.logger.Debug().Str("query", query).Int("items", len(items)).Msg("pricing listing")

		return jsonResult(struct {
			Items []pricing.ListingItem `json:"items"`
		}{Items: items})
	}
}

func handlePaymentMethods(d *toolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(pricing.Methods(d.wallet))
	}
}

func handleMakePurchase(d *toolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := request.RequireString("item_id")
		if err != nil || itemID == "" {
			return errorResult("Error: item_id parameter is required"), nil
		}

		method, err := request.RequireString("payment_method")
		if err != nil || method == "" {
			return errorResult("Error: payment_method parameter is required"), nil
		}

		signed, err := request.RequireString("signed_transaction")
		if err != nil || signed == "" {
			return errorResult("Error: signed_transaction parameter is required"), nil
		}

		var rawParams any
		if args := request.GetArguments(); args != nil {
			rawParams = args["params"]
		}
		params, err := decodeParams(rawParams)
		if err != nil {
			return errorResult(fmt.Sprintf("Error: %v", err)), nil
		}

		req := purchase.Request{
			ItemID:            itemID,
			PaymentMethod:     pricing.PaymentMethod(method),
			SignedTransaction: signed,
			Params:            params,
		}

		// A started purchase runs to completion: client disconnects must not
		// abort the pipeline between settlement and the upstream call.
		result := d.orchestrator.Purchase(context.WithoutCancel(ctx), req)

		return jsonResult(result)
	}
}
