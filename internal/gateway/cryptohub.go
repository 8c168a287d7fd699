package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"payments_core/internal/domain"

	"github.com/shopspring/decimal"
)

// CryptoHub settles in stablecoins. Requests carry an HMAC-SHA256 signature header.
// Credentials: base_url, api_key, api_secret, network.
type CryptoHub struct {
	creds     CredentialSource
	transport *Transport
	now       func() time.Time
}

const cryptoHubSlug = "cryptohub"

func NewCryptoHub(creds CredentialSource, transport *Transport) *CryptoHub {
	return &CryptoHub{creds: creds, transport: transport, now: time.Now}
}

func (c *CryptoHub) Slug() string { return cryptoHubSlug }

func cryptoHubSign(secret string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *CryptoHub) request(ctx context.Context, op, method, path string, body []byte, idempotent bool) ([]byte, error) {
	cr, err := loadCredentials(ctx, c.creds, cryptoHubSlug, "base_url", "api_key", "api_secret")
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	header := http.Header{}
	header.Set("X-Api-Key", cr["api_key"])
	header.Set("X-Timestamp", ts)
	header.Set("X-Signature", cryptoHubSign(cr["api_secret"], ts, method, path, string(body)))

	return c.transport.do(ctx, call{
		provider:   cryptoHubSlug,
		operation:  op,
		method:     method,
		url:        strings.TrimRight(cr["base_url"], "/") + path,
		header:     header,
		body:       body,
		idempotent: idempotent,
	})
}

func (c *CryptoHub) CashIn(ctx context.Context, req CashInRequest) (*CashInResult, error) {
	body, _ := json.Marshal(map[string]string{
		"reference":    req.Reference,
		"amount":       req.Amount.StringFixed(2),
		"currency":     req.Currency,
		"callback_url": req.CallbackURL,
	})
	raw, err := c.request(ctx, "cash_in", http.MethodPost, "/v2/invoices", body, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		Invoice *struct {
			ID         string `json:"id"`
			PaymentURL string `json:"payment_url"`
			Address    string `json:"address"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Invoice == nil || out.Invoice.ID == "" {
		return nil, &ValidationError{Provider: cryptoHubSlug, Operation: "cash_in", Msg: "response missing invoice.id"}
	}
	code := out.Invoice.PaymentURL
	if code == "" {
		code = out.Invoice.Address
	}
	if code == "" {
		return nil, &ValidationError{Provider: cryptoHubSlug, Operation: "cash_in", Msg: "response missing payment_url and address"}
	}
	return &CashInResult{PaymentCode: code, ProviderTransactionID: out.Invoice.ID}, nil
}

func (c *CryptoHub) network(ctx context.Context) (string, error) {
	cr, err := loadCredentials(ctx, c.creds, cryptoHubSlug, "network")
	if err != nil {
		return "", err
	}
	return cr["network"], nil
}

// ValidatePayee checks the address against the configured network when it can be read.
func (c *CryptoHub) ValidatePayee(key string) error {
	network, err := c.network(context.Background())
	if err != nil {
		network = "tron"
	}
	return ValidateWalletAddress(network, key)
}

func (c *CryptoHub) CashOut(ctx context.Context, req CashOutRequest) (*CashOutResult, error) {
	network, err := c.network(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidateWalletAddress(network, req.PayeeKey); err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]string{
		"reference":    req.Reference,
		"amount":       req.Amount.StringFixed(2),
		"currency":     req.Currency,
		"network":      network,
		"address":      strings.TrimSpace(req.PayeeKey),
		"callback_url": req.CallbackURL,
	})
	raw, err := c.request(ctx, "cash_out", http.MethodPost, "/v2/payouts", body, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		Payout *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payout"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Payout == nil || out.Payout.ID == "" {
		return nil, &ValidationError{Provider: cryptoHubSlug, Operation: "cash_out", Msg: "response missing payout.id"}
	}
	status, ok := cryptoHubStatus(out.Payout.Status)
	if !ok {
		status = domain.GatewayPending
	}
	return &CashOutResult{ProviderTransactionID: out.Payout.ID, Status: status}, nil
}

type cryptoHubTransaction struct {
	ID        string           `json:"id"`
	Reference string           `json:"reference"`
	Status    string           `json:"status"`
	Amount    *decimal.Decimal `json:"amount"`
	Currency  string           `json:"currency"`
}

type cryptoHubEnvelope struct {
	Transaction *cryptoHubTransaction `json:"transaction"`
}

// ParseWebhook verifies X-Signature, the hex HMAC of the raw body.
func (c *CryptoHub) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.WebhookEvent, error) {
	sig := header.Get("X-Signature")
	if sig == "" {
		return nil, ErrInvalidSignature
	}
	cr, err := loadCredentials(ctx, c.creds, cryptoHubSlug, "api_secret")
	if err != nil {
		return nil, err
	}
	want := cryptoHubSign(cr["api_secret"], string(body))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sig))) {
		return nil, ErrInvalidSignature
	}

	var env cryptoHubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &WebhookShapeError{Provider: cryptoHubSlug, Field: "body", Msg: "not JSON"}
	}
	return c.event(env, body)
}

func (c *CryptoHub) event(env cryptoHubEnvelope, raw []byte) (*domain.WebhookEvent, error) {
	t := env.Transaction
	switch {
	case t == nil:
		return nil, &WebhookShapeError{Provider: cryptoHubSlug, Field: "transaction"}
	case t.ID == "":
		return nil, &WebhookShapeError{Provider: cryptoHubSlug, Field: "transaction.id"}
	case t.Status == "":
		return nil, &WebhookShapeError{Provider: cryptoHubSlug, Field: "transaction.status"}
	}
	status, ok := cryptoHubStatus(t.Status)
	if !ok {
		return nil, &WebhookShapeError{Provider: cryptoHubSlug, Field: "transaction.status", Msg: "unknown value " + t.Status}
	}
	if status == domain.GatewayCompleted && t.Amount == nil {
		return nil, &WebhookShapeError{Provider: cryptoHubSlug, Field: "transaction.amount"}
	}
	ev := &domain.WebhookEvent{
		Provider:              cryptoHubSlug,
		ProviderTransactionID: t.ID,
		Reference:             t.Reference,
		Status:                status,
		Raw:                   raw,
	}
	if t.Amount != nil {
		ev.Amount = *t.Amount
	}
	return ev, nil
}

func (c *CryptoHub) FetchStatus(ctx context.Context, providerTransactionID string) (*domain.WebhookEvent, error) {
	raw, err := c.request(ctx, "status", http.MethodGet, "/v2/transactions/"+url.PathEscape(providerTransactionID), nil, true)
	if err != nil {
		return nil, err
	}
	var env cryptoHubEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Provider: cryptoHubSlug, Operation: "status", Msg: "malformed response body"}
	}
	return c.event(env, raw)
}

func cryptoHubStatus(s string) (domain.GatewayStatus, bool) {
	switch strings.ToLower(s) {
	case "confirmed", "completed", "paid", "sent":
		return domain.GatewayCompleted, true
	case "failed", "expired", "canceled", "cancelled":
		return domain.GatewayFailed, true
	case "refunded", "returned":
		return domain.GatewayRefunded, true
	case "new", "pending", "confirming", "processing":
		return domain.GatewayPending, true
	}
	return "", false
}
