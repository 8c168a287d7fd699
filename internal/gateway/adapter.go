// Package gateway normalizes third-party PIX and crypto payment providers behind one Adapter contract.
package gateway

import (
	"context"
	"net/http"

	"payments_core/internal/domain"

	"github.com/shopspring/decimal"
)

// Payer identifies who pays a cash-in.
type Payer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type CashInRequest struct {
	// Reference is our transaction id; providers echo it back in webhooks.
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Payer       Payer
	CallbackURL string
}

type CashInResult struct {
	PaymentCode           string
	ProviderTransactionID string
}

type CashOutRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	PayeeKey    string
	PayeeName   string
	CallbackURL string
}

type CashOutResult struct {
	ProviderTransactionID string
	Status                domain.GatewayStatus
}

// Adapter is one payment provider. Adapters never decide financial state; they only report outcomes.
type Adapter interface {
	Slug() string
	CashIn(ctx context.Context, req CashInRequest) (*CashInResult, error)
	// CashOut validates the payee key locally before any network call.
	CashOut(ctx context.Context, req CashOutRequest) (*CashOutResult, error)
	// ParseWebhook authenticates and normalizes a callback body.
	ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.WebhookEvent, error)
}

// StatusChecker is implemented by providers that expose a transaction lookup.
type StatusChecker interface {
	FetchStatus(ctx context.Context, providerTransactionID string) (*domain.WebhookEvent, error)
}

// PayeeValidator checks a payee key without calling the provider.
type PayeeValidator interface {
	ValidatePayee(key string) error
}
