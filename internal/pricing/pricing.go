// Package pricing projects catalog operations into priced listing items.
package pricing

import (
	"github.com/cambrianlabs/cambrian-mcp/internal/catalog"
)

// PaymentMethod identifies an accepted on-chain payment rail.
type PaymentMethod string

const (
	// USDCBaseMainnet is USDC on Base mainnet.
	USDCBaseMainnet PaymentMethod = "USDC_BASE_MAINNET"
	// USDCBaseSepolia is USDC on the Base Sepolia testnet.
	USDCBaseSepolia PaymentMethod = "USDC_BASE_SEPOLIA"
)

// Price is the cost of one purchase.
type Price struct {
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

// ListingItem is one priced, purchasable catalog entry. Derived, never
// stored — it carries no identity beyond the operation it mirrors.
type ListingItem struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Price       Price          `json:"price"`
	Params      catalog.Params `json:"params"`
}

// MethodEntry pairs the configured recipient wallet with one supported
// payment method.
type MethodEntry struct {
	WalletAddress string        `json:"walletAddress"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

// Projector maps operations to listing items at a single flat price.
// Per-operation pricing is deliberately unsupported: every call costs the
// same amount, in the same currency, via one designated payment method.
type Projector struct {
	price Price
}

// NewProjector creates a projector with the flat price applied to every item.
func NewProjector(amount float64, currency string, method PaymentMethod) *Projector {
	return &Projector{price: Price{Amount: amount, Currency: currency, PaymentMethod: method}}
}

// Price returns the flat price applied to every item.
func (p *Projector) Price() Price {
	return p.price
}

// Project returns one listing item per operation, preserving order.
func (p *Projector) Project(ops []catalog.Operation) []ListingItem {
	items := make([]ListingItem, 0, len(ops))
	for _, op := range ops {
		items = append(items, ListingItem{
			ID:          op.ID,
			Name:        op.Name,
			Description: op.Description,
			Price:       p.price,
			Params:      op.Params,
		})
	}
	return items
}

// Methods returns the configured wallet paired with each supported payment
// method.
func Methods(walletAddress string) []MethodEntry {
	return []MethodEntry{
		{WalletAddress: walletAddress, PaymentMethod: USDCBaseMainnet},
		{WalletAddress: walletAddress, PaymentMethod: USDCBaseSepolia},
	}
}
