package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"payments_core/internal/domain"

	"github.com/shopspring/decimal"
)

// PixBridge authenticates with a client-credentials token exchange and a bearer header.
// Postbacks carry X-PixBridge-Signature, the hex HMAC-SHA256 of the raw body.
// Credentials: base_url, client_id, client_secret, webhook_secret.
type PixBridge struct {
	creds     CredentialSource
	transport *Transport
}

const pixBridgeSlug = "pixbridge"

func NewPixBridge(creds CredentialSource, transport *Transport) *PixBridge {
	return &PixBridge{creds: creds, transport: transport}
}

func (p *PixBridge) Slug() string { return pixBridgeSlug }

type pixBridgeTransaction struct {
	TransactionID string           `json:"transaction_id"`
	ExternalID    string           `json:"external_id"`
	Status        string           `json:"status"`
	Amount        *decimal.Decimal `json:"amount"`
	QRCode        string           `json:"qr_code"`
}

type pixBridgeEnvelope struct {
	Data *pixBridgeTransaction `json:"data"`
}

// token exchange happens per call; the token is never stored
func (p *PixBridge) authorize(ctx context.Context) (baseURL string, header http.Header, err error) {
	c, err := loadCredentials(ctx, p.creds, pixBridgeSlug, "base_url", "client_id", "client_secret")
	if err != nil {
		return "", nil, err
	}
	baseURL = strings.TrimRight(c["base_url"], "/")

	body, _ := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c["client_id"],
		"client_secret": c["client_secret"],
	})
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	err = p.transport.doJSON(ctx, call{
		provider:   pixBridgeSlug,
		operation:  "token",
		method:     http.MethodPost,
		url:        baseURL + "/oauth/token",
		body:       body,
		idempotent: true,
	}, &tok)
	if err != nil {
		return "", nil, err
	}
	if tok.AccessToken == "" {
		return "", nil, &AuthError{Provider: pixBridgeSlug, Msg: "token response without access_token"}
	}

	header = http.Header{}
	header.Set("Authorization", "Bearer "+tok.AccessToken)
	return baseURL, header, nil
}

func (p *PixBridge) CashIn(ctx context.Context, req CashInRequest) (*CashInResult, error) {
	baseURL, header, err := p.authorize(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{
		"amount":       req.Amount.StringFixed(2),
		"external_id":  req.Reference,
		"postback_url": req.CallbackURL,
		"payer": map[string]string{
			"name":     req.Payer.Name,
			"document": onlyDigits(req.Payer.Document),
			"phone":    req.Payer.Phone,
		},
	})
	var env pixBridgeEnvelope
	err = p.transport.doJSON(ctx, call{
		provider:  pixBridgeSlug,
		operation: "cash_in",
		method:    http.MethodPost,
		url:       baseURL + "/v1/pix/cash-in",
		header:    header,
		body:      body,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.TransactionID == "" || env.Data.QRCode == "" {
		return nil, &ValidationError{Provider: pixBridgeSlug, Operation: "cash_in", Msg: "response missing transaction_id or qr_code"}
	}
	return &CashInResult{PaymentCode: env.Data.QRCode, ProviderTransactionID: env.Data.TransactionID}, nil
}

func (p *PixBridge) ValidatePayee(key string) error {
	_, _, err := ParsePixKey(key)
	return err
}

func (p *PixBridge) CashOut(ctx context.Context, req CashOutRequest) (*CashOutResult, error) {
	key, keyType, err := ParsePixKey(req.PayeeKey)
	if err != nil {
		return nil, err
	}
	baseURL, header, err := p.authorize(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{
		"amount":       req.Amount.StringFixed(2),
		"external_id":  req.Reference,
		"pix_key":      key,
		"pix_key_type": strings.ToUpper(string(keyType)),
		"postback_url": req.CallbackURL,
	})
	var env pixBridgeEnvelope
	err = p.transport.doJSON(ctx, call{
		provider:  pixBridgeSlug,
		operation: "cash_out",
		method:    http.MethodPost,
		url:       baseURL + "/v1/pix/cash-out",
		header:    header,
		body:      body,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.TransactionID == "" {
		return nil, &ValidationError{Provider: pixBridgeSlug, Operation: "cash_out", Msg: "response missing transaction_id"}
	}
	status, ok := pixBridgeStatus(env.Data.Status)
	if !ok {
		status = domain.GatewayPending
	}
	return &CashOutResult{ProviderTransactionID: env.Data.TransactionID, Status: status}, nil
}

const pixBridgeSignatureHeader = "X-PixBridge-Signature"

func pixBridgeSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook expects {"data":{"transaction_id":..,"external_id":..,"status":..,"amount":..}}.
// The signature is checked before the body is trusted.
func (p *PixBridge) ParseWebhook(ctx context.Context, body []byte, header http.Header) (*domain.WebhookEvent, error) {
	sig := strings.ToLower(strings.TrimSpace(header.Get(pixBridgeSignatureHeader)))
	if sig == "" {
		return nil, ErrInvalidSignature
	}
	c, err := loadCredentials(ctx, p.creds, pixBridgeSlug, "webhook_secret")
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(pixBridgeSign(c["webhook_secret"], body)), []byte(sig)) {
		return nil, ErrInvalidSignature
	}

	var env pixBridgeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &WebhookShapeError{Provider: pixBridgeSlug, Field: "body", Msg: "not JSON"}
	}
	return p.event(env, body)
}

func (p *PixBridge) event(env pixBridgeEnvelope, raw []byte) (*domain.WebhookEvent, error) {
	if env.Data == nil {
		return nil, &WebhookShapeError{Provider: pixBridgeSlug, Field: "data"}
	}
	if env.Data.TransactionID == "" {
		return nil, &WebhookShapeError{Provider: pixBridgeSlug, Field: "data.transaction_id"}
	}
	if env.Data.Status == "" {
		return nil, &WebhookShapeError{Provider: pixBridgeSlug, Field: "data.status"}
	}
	status, ok := pixBridgeStatus(env.Data.Status)
	if !ok {
		return nil, &WebhookShapeError{Provider: pixBridgeSlug, Field: "data.status", Msg: "unknown value " + env.Data.Status}
	}
	if status == domain.GatewayCompleted && env.Data.Amount == nil {
		return nil, &WebhookShapeError{Provider: pixBridgeSlug, Field: "data.amount"}
	}
	ev := &domain.WebhookEvent{
		Provider:              pixBridgeSlug,
		ProviderTransactionID: env.Data.TransactionID,
		Reference:             env.Data.ExternalID,
		Status:                status,
		Raw:                   raw,
	}
	if env.Data.Amount != nil {
		ev.Amount = *env.Data.Amount
	}
	return ev, nil
}

func (p *PixBridge) FetchStatus(ctx context.Context, providerTransactionID string) (*domain.WebhookEvent, error) {
	baseURL, header, err := p.authorize(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := p.transport.do(ctx, call{
		provider:   pixBridgeSlug,
		operation:  "status",
		method:     http.MethodGet,
		url:        baseURL + "/v1/transactions/" + url.PathEscape(providerTransactionID),
		header:     header,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	var env pixBridgeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Provider: pixBridgeSlug, Operation: "status", Msg: "malformed response body"}
	}
	return p.event(env, raw)
}

func pixBridgeStatus(s string) (domain.GatewayStatus, bool) {
	switch strings.ToUpper(s) {
	case "PAID", "COMPLETED", "APPROVED":
		return domain.GatewayCompleted, true
	case "FAILED", "CANCELED", "CANCELLED", "EXPIRED", "ERROR":
		return domain.GatewayFailed, true
	case "REFUNDED", "CHARGEBACK":
		return domain.GatewayRefunded, true
	case "PENDING", "PROCESSING", "CREATED", "WAITING_PAYMENT":
		return domain.GatewayPending, true
	}
	return "", false
}
