package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayStatus is a provider outcome after normalization.
type GatewayStatus string

const (
	GatewayCompleted GatewayStatus = "completed"
	GatewayFailed    GatewayStatus = "failed"
	GatewayRefunded  GatewayStatus = "refunded"
	GatewayPending   GatewayStatus = "pending"
)

// WebhookEvent is an inbound provider callback in provider-independent form.
type WebhookEvent struct {
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Reference             string          `json:"reference,omitempty"` // our id, when echoed back
	Status                GatewayStatus   `json:"status"`
	Amount                decimal.Decimal `json:"amount"`
	Raw                   json.RawMessage `json:"-"`
}

// GatewayCredential is a rotatable provider secret.
type GatewayCredential struct {
	GatewaySlug string    `db:"gateway_slug" json:"gateway_slug"`
	Key         string    `db:"key" json:"key"`
	Value       string    `db:"value" json:"-"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
