package handlers

import (
	"errors"
	"io"
	"net/http"

	"payments_core/internal/gateway"
	"payments_core/internal/logger"
	"payments_core/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBody   = 1 << 20
	maxLoggedPayload = 2048
)

// loggedPayload caps a raw callback body for log attributes.
func loggedPayload(body []byte) string {
	if len(body) > maxLoggedPayload {
		return string(body[:maxLoggedPayload]) + "...(truncated)"
	}
	return string(body)
}

// Webhook receives provider callbacks on /webhooks/:provider. Providers retry anything
// that is not 2xx, so only failures worth a retry answer with 5xx.
func (h *Handler) Webhook(c *gin.Context) {
	provider := c.Param("provider")
	ctx := logger.IntoContext(c.Request.Context(), logger.FromContext(c.Request.Context()).With("provider", provider))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "unreadable body"})
		return
	}

	ev, err := h.Gateways.ParseWebhook(ctx, provider, body, c.Request.Header)
	if err != nil {
		var shape *gateway.WebhookShapeError
		switch {
		case errors.Is(err, gateway.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "unknown provider"})
		case errors.Is(err, gateway.ErrInvalidSignature):
			logger.FromContext(ctx).Warn("webhook signature rejected", "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid signature"})
		case errors.As(err, &shape):
			logger.FromContext(ctx).Warn("malformed webhook", "error", err, "payload", loggedPayload(body))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": err.Error()})
		default:
			logger.FromContext(ctx).Error("webhook parse failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		}
		return
	}

	outcome, err := h.Reconciler.Reconcile(ctx, ev)
	var mismatch *service.AmountMismatchError
	switch {
	case err == nil && outcome == service.OutcomeAlreadyProcessing:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "already processing"})
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
	case errors.Is(err, service.ErrUnknownTransaction):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
	case errors.As(err, &mismatch):
		c.JSON(http.StatusAccepted, gin.H{"success": false, "message": "held for review"})
	default:
		logger.FromContext(ctx).Error("webhook reconcile failed", "provider_transaction_id", ev.ProviderTransactionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	}
}
