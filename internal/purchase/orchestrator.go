// Package purchase coordinates the pay-then-call pipeline: resolve the
// catalog item, verify payment, invoke the upstream API, and package every
// outcome as data.
package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/cambrianlabs/cambrian-mcp/internal/catalog"
	"github.com/cambrianlabs/cambrian-mcp/internal/common"
	"github.com/cambrianlabs/cambrian-mcp/internal/payment"
	"github.com/cambrianlabs/cambrian-mcp/internal/pricing"
)

// upstreamTimeout bounds one upstream API call.
const upstreamTimeout = 30 * time.Second

// feeRangesItemID is the one operation that keeps a legacy default: callers
// that omit timeframeDays get 7 days injected.
const feeRangesItemID = "solanapoolsfeeranges"

// Gate verifies and settles a payment. Satisfied by *payment.Gate.
type Gate interface {
	VerifyAndSettle(ctx context.Context, amount float64, recipient string, vc payment.VerifyContext) payment.SettlementResult
}

// Request is one caller-supplied purchase attempt.
type Request struct {
	ItemID            string                `json:"itemId"`
	PaymentMethod     pricing.PaymentMethod `json:"paymentMethod"`
	SignedTransaction string                `json:"signedTransaction"`
	Params            map[string]any        `json:"params,omitempty"`
}

// Result is the terminal response for a purchase attempt. Every branch —
// unknown item, payment failure, upstream failure, internal fault — ends
// here; ToolResult is the sole carrier of success/failure nuance. OrderID is
// freshly generated once per attempt for client-side correlation only.
type Result struct {
	PurchasableItemID string  `json:"purchasableItemId"`
	Request           Request `json:"makePurchaseRequest"`
	OrderID           string  `json:"orderId"`
	ToolResult        string  `json:"toolResult"`
}

// Config holds the operator settings the orchestrator needs.
type Config struct {
	BaseURL        string
	APIKey         string
	Recipient      string
	FacilitatorURL string
	PriceUSD       float64
}

// Orchestrator drives the purchase pipeline against an immutable catalog.
type Orchestrator struct {
	catalog    *catalog.Catalog
	gate       Gate
	cfg        Config
	httpClient *http.Client
	logger     *common.Logger
}

// New creates an orchestrator. The catalog reference is read-only.
func New(cat *catalog.Catalog, gate Gate, cfg Config, logger *common.Logger) *Orchestrator {
	return &Orchestrator{
		catalog: cat,
		gate:    gate,
		cfg:     cfg,
		httpClient: &http.Client{
			Timeout: upstreamTimeout,
		},
		logger: logger,
	}
}

// Purchase runs one purchase attempt to completion. It never returns an
// error: every failure mode is encoded inside the Result, and a top-level
// recover converts unexpected faults into a failure envelope so nothing
// propagates to the protocol layer.
func (o *Orchestrator) Purchase(ctx context.Context, req Request) (res Result) {
	res = Result{
		PurchasableItemID: req.ItemID,
		Request:           req,
		OrderID:           uuid.NewString(),
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("item_id", req.ItemID).Str("panic", fmt.Sprint(r)).Msg("purchase pipeline fault")
			res.ToolResult = encodeEnvelope(map[string]any{
				"success": false,
				"error":   fmt.Sprint(r),
				"details": "internal error during purchase",
			})
		}
	}()

	op, ok := o.catalog.FindByID(req.ItemID)
	if !ok {
		o.logger.Info().Str("item_id", req.ItemID).Msg("purchase for unknown item")
		res.ToolResult = "Invalid endpoint ID"
		return res
	}

	// The payment is bound to this exact resource so a payment verified for
	// one operation cannot be replayed against another.
	resource := o.cfg.BaseURL + op.Path

	settlement := o.gate.VerifyAndSettle(ctx, o.cfg.PriceUSD, o.cfg.Recipient, payment.VerifyContext{
		FacilitatorURL: o.cfg.FacilitatorURL,
		PaymentHeader:  req.SignedTransaction,
		Resource:       resource,
		PaymentMethod:  req.PaymentMethod,
	})

	if !settlement.Success {
		reason := settlement.Error
		if reason == "" {
			reason = settlement.Message
		}
		// Payment verification strictly precedes upstream invocation: no
		// upstream call is made on this branch.
		res.ToolResult = "Payment failed: " + reason
		return res
	}

	apiURL := buildUpstreamURL(resource, op.ID, req.Params)

	body, err := o.invokeUpstream(ctx, op.Method, apiURL)
	if err != nil {
		// The caller paid for an attempted call, not a guaranteed upstream
		// success — the payment is not reversed.
		o.logger.Warn().Err(err).Str("item_id", op.ID).Str("url", apiURL).Msg("upstream call failed after settled payment")
		res.ToolResult = encodeEnvelope(map[string]any{
			"success":        true,
			"paymentSuccess": true,
			"message":        "Payment successful. API returned an error.",
			"error":          err.Error(),
		})
		return res
	}

	o.logger.Info().Str("item_id", op.ID).Str("order_id", res.OrderID).Msg("purchase completed")
	res.ToolResult = encodeEnvelope(map[string]any{
		"success": true,
		"data":    rawOrString(body),
	})
	return res
}

// buildUpstreamURL appends caller parameters as a query string. Nil values
// are skipped; no parameter is rejected for being unrecognized or absent.
func buildUpstreamURL(resource, itemID string, params map[string]any) string {
	values := url.Values{}
	for key, val := range params {
		if val == nil {
			continue
		}
		values.Set(key, fmt.Sprint(val))
	}
	if itemID == feeRangesItemID && !values.Has("timeframeDays") {
		values.Set("timeframeDays", "7")
	}
	if len(values) == 0 {
		return resource
	}
	return resource + "?" + values.Encode()
}

// invokeUpstream performs the upstream HTTP call and returns the body on 2xx.
func (o *Orchestrator) invokeUpstream(ctx context.Context, method, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, apiURL, nil)
	if err != nil {
		return nil, err
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", o.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return body, nil
}

// rawOrString embeds a JSON upstream body verbatim, or wraps a non-JSON body
// as a string value.
func rawOrString(body []byte) any {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

// encodeEnvelope marshals a tool-result envelope. The envelopes here only
// hold marshalable values, so an encode failure reduces to a minimal error
// object rather than panicking inside the recovery path.
func encodeEnvelope(envelope map[string]any) string {
	data, err := json.Marshal(envelope)
	if err != nil {
		return `{"success":false,"error":"failed to encode result"}`
	}
	return string(data)
}
