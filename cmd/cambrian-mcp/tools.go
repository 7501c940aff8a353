package main

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server, wiring each to a
// handler backed by the catalog, projector, and purchase orchestrator.
func registerTools(s *server.MCPServer, d *toolDeps) {
	s.AddTool(createGetVersionTool(), handleGetVersion(d))
	s.AddTool(createPricingListingTool(), handlePricingListing(d))
	s.AddTool(createPaymentMethodsTool(), handlePaymentMethods(d))
	s.AddTool(createMakePurchaseTool(), handleMakePurchase(d))
}

// --- Tool definitions ---

func createGetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the Cambrian MCP server version and status. Use this to verify connectivity."),
	)
}

func createPricingListingTool() mcp.Tool {
	return mcp.NewTool("pricing_listing",
		mcp.WithDescription("List purchasable Cambrian API endpoints with their prices. Every endpoint costs the same flat amount in USDC. Optionally filter by a search query matched against endpoint names and descriptions."),
		mcp.WithString("search_query", mcp.Description("Case-insensitive filter on endpoint name and description. Omit for the full catalog.")),
	)
}

func createPaymentMethodsTool() mcp.Tool {
	return mcp.NewTool("payment_methods",
		mcp.WithDescription("List accepted payment methods and the recipient wallet address for each."),
	)
}

func createMakePurchaseTool() mcp.Tool {
	return mcp.NewTool("make_purchase",
		mcp.WithDescription("Pay for and invoke one Cambrian API endpoint. The signed payment is verified and settled before the upstream call; inspect the toolResult field of the response to determine the true outcome."),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Endpoint ID from pricing_listing (e.g., 'evm-chains')")),
		mcp.WithString("payment_method", mcp.Required(), mcp.Description("Payment method identifier: USDC_BASE_MAINNET or USDC_BASE_SEPOLIA")),
		mcp.WithString("signed_transaction", mcp.Required(), mcp.Description("Signed x402 payment payload authorizing the charge")),
		mcp.WithObject("params", mcp.Description("Query parameters for the endpoint, as listed in pricing_listing. Unknown parameters are passed through; null values are skipped.")),
	)
}
