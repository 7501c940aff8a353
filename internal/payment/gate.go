// Package payment verifies and settles x402 payments against an external
// facilitator service.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cambrianlabs/cambrian-mcp/internal/common"
	"github.com/cambrianlabs/cambrian-mcp/internal/pricing"
)

// x402Version is the protocol version spoken to the facilitator.
const x402Version = 1

// usdcDecimals converts a USD amount to USDC atomic units.
const usdcDecimals = 1e6

// networks maps each supported payment method to its x402 network identifier
// and USDC token contract.
var networks = map[pricing.PaymentMethod]struct {
	network string
	asset   string
}{
	pricing.USDCBaseMainnet: {network: "base", asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
	pricing.USDCBaseSepolia: {network: "base-sepolia", asset: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
}

// Requirements is the payment requirement bound to one resource, sent to the
// facilitator on both verify and settle.
type Requirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
}

// VerifyContext carries the request-scoped inputs for one settlement attempt.
// The facilitator endpoint and recipient address are operator configuration.
type VerifyContext struct {
	FacilitatorURL string
	PaymentHeader  string
	Resource       string
	PaymentMethod  pricing.PaymentMethod
}

// SettlementResult is the gate's verdict. The orchestrator has no other way
// to distinguish "payment rejected" from "payment channel unreachable" than
// the Error and Message fields, so every failure populates them.
type SettlementResult struct {
	Success bool
	Error   string
	Message string
	TxHash  string
}

type facilitatorRequest struct {
	X402Version         int          `json:"x402Version"`
	PaymentHeader       string       `json:"paymentHeader"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason"`
}

type settleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

// Gate is the HTTP client for the payment facilitator.
type Gate struct {
	httpClient *http.Client
	logger     *common.Logger
}

// NewGate creates a facilitator client.
func NewGate(logger *common.Logger) *Gate {
	return &Gate{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// VerifyAndSettle verifies the signed payment against the facilitator and, on
// a valid verdict, settles it. It never returns a Go error: any transport
// failure, non-2xx response, or rejection resolves to Success:false with
// diagnostic fields populated.
func (g *Gate) VerifyAndSettle(ctx context.Context, amount float64, recipient string, vc VerifyContext) SettlementResult {
	net, ok := networks[vc.PaymentMethod]
	if !ok {
		return SettlementResult{
			Success: false,
			Error:   fmt.Sprintf("unsupported payment method %q", vc.PaymentMethod),
			Message: "payment method not accepted",
		}
	}

	reqBody := facilitatorRequest{
		X402Version:   x402Version,
		PaymentHeader: vc.PaymentHeader,
		PaymentRequirements: Requirements{
			Scheme:            "exact",
			Network:           net.network,
			MaxAmountRequired: atomicAmount(amount),
			Resource:          vc.Resource,
			Description:       "Pay-per-call access to " + vc.Resource,
			MimeType:          "application/json",
			PayTo:             recipient,
			MaxTimeoutSeconds: 60,
			Asset:             net.asset,
		},
	}

	var verdict verifyResponse
	if err := g.post(ctx, vc.FacilitatorURL+"/verify", reqBody, &verdict); err != nil {
		g.logger.Warn().Err(err).Str("resource", vc.Resource).Msg("facilitator verify failed")
		return SettlementResult{Success: false, Error: err.Error(), Message: "payment verification unreachable"}
	}
	if !verdict.IsValid {
		reason := verdict.InvalidReason
		if reason == "" {
			reason = "payment rejected by facilitator"
		}
		g.logger.Info().Str("reason", reason).Str("resource", vc.Resource).Msg("payment verification rejected")
		return SettlementResult{Success: false, Error: reason, Message: "payment verification rejected"}
	}

	var settled settleResponse
	if err := g.post(ctx, vc.FacilitatorURL+"/settle", reqBody, &settled); err != nil {
		g.logger.Warn().Err(err).Str("resource", vc.Resource).Msg("facilitator settle failed")
		return SettlementResult{Success: false, Error: err.Error(), Message: "payment settlement unreachable"}
	}
	if !settled.Success {
		reason := settled.ErrorReason
		if reason == "" {
			reason = "settlement rejected by facilitator"
		}
		g.logger.Info().Str("reason", reason).Str("resource", vc.Resource).Msg("payment settlement rejected")
		return SettlementResult{Success: false, Error: reason, Message: "payment settlement rejected"}
	}

	g.logger.Info().
		Str("resource", vc.Resource).
		Str("network", settled.Network).
		Str("tx", settled.Transaction).
		Msg("payment settled")

	return SettlementResult{Success: true, Message: "payment settled", TxHash: settled.Transaction}
}

// post sends a JSON request and decodes a JSON response.
func (g *Gate) post(ctx context.Context, url string, data, out any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse facilitator response: %w", err)
	}
	return nil
}

// atomicAmount converts a USD amount into USDC atomic units (6 decimals).
func atomicAmount(amount float64) string {
	return strconv.FormatInt(int64(math.Round(amount*usdcDecimals)), 10)
}
