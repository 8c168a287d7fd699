package gateway

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"payments_core/internal/domain"

	"github.com/shopspring/decimal"
)

// PayLink uses a static API key and an MD5 signature over concatenated fields, both on
// requests and on webhooks. Credentials: base_url, api_key, secret.
type PayLink struct {
	creds     CredentialSource
	transport *Transport
}

const payLinkSlug = "paylink"

func NewPayLink(creds CredentialSource, transport *Transport) *PayLink {
	return &PayLink{creds: creds, transport: transport}
}

func (p *PayLink) Slug() string { return payLinkSlug }

func payLinkSign(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

type payLinkResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	PayinID      string `json:"payin_id"`
	PayoutID     string `json:"payout_id"`
	PixCopyPaste string `json:"pix_copy_paste"`
	State        string `json:"state"`
}

func (p *PayLink) post(ctx context.Context, op, path string, fields map[string]string, out *payLinkResponse) error {
	c, err := loadCredentials(ctx, p.creds, payLinkSlug, "base_url", "api_key", "secret")
	if err != nil {
		return err
	}
	fields["api_key"] = c["api_key"]
	fields["sign"] = payLinkSign(c["api_key"], fields["order_id"], fields["amount"], c["secret"])

	body, _ := json.Marshal(fields)
	if err := p.transport.doJSON(ctx, call{
		provider:  payLinkSlug,
		operation: op,
		method:    http.MethodPost,
		url:       strings.TrimRight(c["base_url"], "/") + path,
		body:      body,
	}, out); err != nil {
		return err
	}
	if !strings.EqualFold(out.Status, "success") {
		msg := out.Message
		if msg == "" {
			msg = "status " + out.Status
		}
		if strings.Contains(strings.ToLower(msg), "api key") {
			return &AuthError{Provider: payLinkSlug, Msg: msg}
		}
		return &ValidationError{Provider: payLinkSlug, Operation: op, Msg: msg}
	}
	return nil
}

func (p *PayLink) CashIn(ctx context.Context, req CashInRequest) (*CashInResult, error) {
	var out payLinkResponse
	err := p.post(ctx, "cash_in", "/api/payin", map[string]string{
		"order_id":   req.Reference,
		"amount":     req.Amount.StringFixed(2),
		"name":       req.Payer.Name,
		"document":   onlyDigits(req.Payer.Document),
		"email":      req.Payer.Email,
		"phone":      req.Payer.Phone,
		"notify_url": req.CallbackURL,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.PayinID == "" || out.PixCopyPaste == "" {
		return nil, &ValidationError{Provider: payLinkSlug, Operation: "cash_in", Msg: "response missing payin_id or pix_copy_paste"}
	}
	return &CashInResult{PaymentCode: out.PixCopyPaste, ProviderTransactionID: out.PayinID}, nil
}

func (p *PayLink) ValidatePayee(key string) error {
	_, _, err := ParsePixKey(key)
	return err
}

func (p *PayLink) CashOut(ctx context.Context, req CashOutRequest) (*CashOutResult, error) {
	key, keyType, err := ParsePixKey(req.PayeeKey)
	if err != nil {
		return nil, err
	}
	var out payLinkResponse
	err = p.post(ctx, "cash_out", "/api/payout", map[string]string{
		"order_id":   req.Reference,
		"amount":     req.Amount.StringFixed(2),
		"pix_key":    key,
		"pix_type":   string(keyType),
		"name":       req.PayeeName,
		"notify_url": req.CallbackURL,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.PayoutID == "" {
		return nil, &ValidationError{Provider: payLinkSlug, Operation: "cash_out", Msg: "response missing payout_id"}
	}
	status := domain.GatewayPending
	switch strings.ToLower(out.State) {
	case "completed", "paid":
		status = domain.GatewayCompleted
	case "failed", "rejected":
		status = domain.GatewayFailed
	}
	return &CashOutResult{ProviderTransactionID: out.PayoutID, Status: status}, nil
}

type payLinkWebhook struct {
	Event   string           `json:"event"`
	ID      string           `json:"id"`
	OrderID string           `json:"order_id"`
	Amount  *decimal.Decimal `json:"amount"`
	Sign    string           `json:"sign"`
}

// ParseWebhook expects a top-level event enum such as "payin.paid" or "payout.reversed",
// signed as md5(id + order_id + amount + secret).
func (p *PayLink) ParseWebhook(ctx context.Context, body []byte, _ http.Header) (*domain.WebhookEvent, error) {
	var w payLinkWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &WebhookShapeError{Provider: payLinkSlug, Field: "body", Msg: "not JSON"}
	}
	switch {
	case w.Event == "":
		return nil, &WebhookShapeError{Provider: payLinkSlug, Field: "event"}
	case w.ID == "":
		return nil, &WebhookShapeError{Provider: payLinkSlug, Field: "id"}
	case w.Amount == nil:
		return nil, &WebhookShapeError{Provider: payLinkSlug, Field: "amount"}
	case w.Sign == "":
		return nil, &WebhookShapeError{Provider: payLinkSlug, Field: "sign"}
	}

	c, err := loadCredentials(ctx, p.creds, payLinkSlug, "secret")
	if err != nil {
		return nil, err
	}
	want := payLinkSign(w.ID, w.OrderID, w.Amount.StringFixed(2), c["secret"])
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(w.Sign))) != 1 {
		return nil, ErrInvalidSignature
	}

	status, ok := payLinkStatus(w.Event)
	if !ok {
		return nil, &WebhookShapeError{Provider: payLinkSlug, Field: "event", Msg: "unknown value " + w.Event}
	}
	return &domain.WebhookEvent{
		Provider:              payLinkSlug,
		ProviderTransactionID: w.ID,
		Reference:             w.OrderID,
		Status:                status,
		Amount:                *w.Amount,
		Raw:                   body,
	}, nil
}

func payLinkStatus(event string) (domain.GatewayStatus, bool) {
	switch strings.ToLower(event) {
	case "payin.paid", "payout.completed":
		return domain.GatewayCompleted, true
	case "payin.failed", "payin.expired", "payout.failed":
		return domain.GatewayFailed, true
	case "payin.refunded", "payout.reversed":
		return domain.GatewayRefunded, true
	case "payin.created", "payout.processing":
		return domain.GatewayPending, true
	}
	return "", false
}
