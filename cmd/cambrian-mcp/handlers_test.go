package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cambrianlabs/cambrian-mcp/internal/catalog"
	"github.com/cambrianlabs/cambrian-mcp/internal/common"
	"github.com/cambrianlabs/cambrian-mcp/internal/payment"
	"github.com/cambrianlabs/cambrian-mcp/internal/pricing"
	"github.com/cambrianlabs/cambrian-mcp/internal/purchase"
)

func testLogger() *common.Logger {
	return common.NewSilentLogger()
}

func testDeps(baseURL string) *toolDeps {
	cat := catalog.New([]catalog.Operation{
		{ID: "evm-chains", Name: "Get EVM Chains", Description: "List all supported EVM chains",
			Path: "/api/v1/evm/chains", Method: http.MethodGet},
		{ID: "uniswap-v3-pools", Name: "Uniswap V3 Pools", Description: "Uniswap V3 pool data",
			Path: "/api/v1/evm/uniswap/v3/pools", Method: http.MethodGet,
			Params: catalog.Params{
				{Name: "chain", Description: "Chain ID"},
				{Name: "token", Description: "Token address"},
			}},
	})

	orch := purchase.New(cat, settledTestGate{}, purchase.Config{
		BaseURL:   baseURL,
		Recipient: "0xRecipient",
		PriceUSD:  0.03,
	}, testLogger())

	return &toolDeps{
		serverName:   "Cambrian-MCP",
		catalog:      cat,
		projector:    pricing.NewProjector(0.03, "USDC", pricing.USDCBaseMainnet),
		orchestrator: orch,
		wallet:       "0xWallet",
		logger:       testLogger(),
	}
}

// settledTestGate accepts every payment without touching the network.
type settledTestGate struct{}

func (settledTestGate) VerifyAndSettle(ctx context.Context, amount float64, recipient string, vc payment.VerifyContext) payment.SettlementResult {
	return payment.SettlementResult{Success: true, Message: "payment settled"}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("Expected non-empty result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestHandlePricingListing_AllItems(t *testing.T) {
	handler := handlePricingListing(testDeps("http://localhost:1"))

	request := mcp.CallToolRequest{}
	request.Params.Arguments = map[string]interface{}{}

	result, err := handler(t.Context(), request)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error: %v", result.Content)
	}

	var listing struct {
		Items []pricing.ListingItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &listing); err != nil {
		t.Fatalf("Result is not JSON: %v", err)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(listing.Items))
	}
	for _, item := range listing.Items {
		if item.Price.Amount != 0.03 || item.Price.Currency != "USDC" {
			t.Errorf("Expected flat 0.03 USDC price, got %+v", item.Price)
		}
		if item.Price.PaymentMethod != pricing.USDCBaseMainnet {
			t.Errorf("Expected USDC_BASE_MAINNET, got %s", item.Price.PaymentMethod)
		}
	}
}

func TestHandlePricingListing_SearchFilter(t *testing.T) {
	handler := handlePricingListing(testDeps("http://localhost:1"))

	request := mcp.CallToolRequest{}
	request.Params.Arguments = map[string]interface{}{
		"search_query": "uniswap",
	}

	result, err := handler(t.Context(), request)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var listing struct {
		Items []pricing.ListingItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &listing); err != nil {
		t.Fatalf("Result is not JSON: %v", err)
	}
	if len(listing.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(listing.Items))
	}
	if listing.Items[0].ID != "uniswap-v3-pools" {
		t.Errorf("Expected uniswap-v3-pools, got %s", listing.Items[0].ID)
	}
}

func TestHandlePaymentMethods(t *testing.T) {
	handler := handlePaymentMethods(testDeps("http://localhost:1"))

	result, err := handler(t.Context(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var methods []pricing.MethodEntry
	if err := json.Unmarshal([]byte(resultText(t, result)), &methods); err != nil {
		t.Fatalf("Result is not JSON: %v", err)
	}
	if len(methods) != 2 {
		t.Fatalf("Expected 2 payment methods, got %d", len(methods))
	}
	for _, m := range methods {
		if m.WalletAddress != "0xWallet" {
			t.Errorf("Expected wallet 0xWallet, got %s", m.WalletAddress)
		}
	}
	if methods[0].PaymentMethod != pricing.USDCBaseMainnet || methods[1].PaymentMethod != pricing.USDCBaseSepolia {
		t.Errorf("Unexpected method order: %+v", methods)
	}
}

func TestHandleGetVersion(t *testing.T) {
	handler := handleGetVersion(testDeps("http://localhost:1"))

	result, err := handler(t.Context(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := resultText(t, result)
	if !strings.Contains(text, "Cambrian-MCP") {
		t.Error("Result should contain server name")
	}
	if !strings.Contains(text, "Catalog: 2 endpoints") {
		t.Errorf("Result should report catalog size, got %q", text)
	}
}

func TestHandleMakePurchase_MissingArguments(t *testing.T) {
	handler := handleMakePurchase(testDeps("http://localhost:1"))

	cases := []struct {
		name string
		args map[string]interface{}
	}{
		{"no item_id", map[string]interface{}{
			"payment_method": "USDC_BASE_MAINNET", "signed_transaction": "sig"}},
		{"no payment_method", map[string]interface{}{
			"item_id": "evm-chains", "signed_transaction": "sig"}},
		{"no signed_transaction", map[string]interface{}{
			"item_id": "evm-chains", "payment_method": "USDC_BASE_MAINNET"}},
		{"empty item_id", map[string]interface{}{
			"item_id": "", "payment_method": "USDC_BASE_MAINNET", "signed_transaction": "sig"}},
	}

	for _, tc := range cases {
		request := mcp.CallToolRequest{}
		request.Params.Arguments = tc.args

		result, err := handler(t.Context(), request)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !result.IsError {
			t.Errorf("%s: expected error result", tc.name)
		}
	}
}

func TestHandleMakePurchase_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chains":[]}`))
	}))
	defer srv.Close()

	handler := handleMakePurchase(testDeps(srv.URL))

	request := mcp.CallToolRequest{}
	request.Params.Arguments = map[string]interface{}{
		"item_id":            "evm-chains",
		"payment_method":     "USDC_BASE_MAINNET",
		"signed_transaction": "signed-payload",
	}

	result, err := handler(t.Context(), request)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error: %v", result.Content)
	}

	var purchaseResult purchase.Result
	if err := json.Unmarshal([]byte(resultText(t, result)), &purchaseResult); err != nil {
		t.Fatalf("Result is not JSON: %v", err)
	}
	if purchaseResult.PurchasableItemID != "evm-chains" {
		t.Errorf("Expected evm-chains, got %s", purchaseResult.PurchasableItemID)
	}
	if purchaseResult.OrderID == "" {
		t.Error("Expected non-empty orderId")
	}
	if !strings.Contains(purchaseResult.ToolResult, `"success":true`) {
		t.Errorf("Expected success toolResult, got %q", purchaseResult.ToolResult)
	}
}

func TestHandleMakePurchase_ParamsAsJSONString(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	handler := handleMakePurchase(testDeps(srv.URL))

	request := mcp.CallToolRequest{}
	request.Params.Arguments = map[string]interface{}{
		"item_id":            "uniswap-v3-pools",
		"payment_method":     "USDC_BASE_MAINNET",
		"signed_transaction": "signed-payload",
		"params":             `{"chain":"8453"}`,
	}

	result, err := handler(t.Context(), request)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got error: %v", result.Content)
	}
	if gotQuery != "chain=8453" {
		t.Errorf("Expected chain=8453 forwarded upstream, got %q", gotQuery)
	}
}

func TestHandleMakePurchase_InvalidParams(t *testing.T) {
	handler := handleMakePurchase(testDeps("http://localhost:1"))

	request := mcp.CallToolRequest{}
	request.Params.Arguments = map[string]interface{}{
		"item_id":            "evm-chains",
		"payment_method":     "USDC_BASE_MAINNET",
		"signed_transaction": "signed-payload",
		"params":             "not-json",
	}

	result, err := handler(t.Context(), request)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result for malformed params")
	}
}

func TestDecodeParams(t *testing.T) {
	if params, err := decodeParams(nil); err != nil || params != nil {
		t.Errorf("Expected nil for nil input, got %v, %v", params, err)
	}

	obj := map[string]any{"chain": "8453"}
	if params, err := decodeParams(obj); err != nil || params["chain"] != "8453" {
		t.Errorf("Expected object passthrough, got %v, %v", params, err)
	}

	if params, err := decodeParams(`{"token":"0xdead"}`); err != nil || params["token"] != "0xdead" {
		t.Errorf("Expected decoded JSON string, got %v, %v", params, err)
	}

	if params, err := decodeParams(""); err != nil || params != nil {
		t.Errorf("Expected nil for empty string, got %v, %v", params, err)
	}

	if _, err := decodeParams("{broken"); err == nil {
		t.Error("Expected error for malformed JSON string")
	}

	if _, err := decodeParams(42); err == nil {
		t.Error("Expected error for non-object params")
	}
}
