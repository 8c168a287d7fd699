package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"payments_core/internal/gateway"
	"payments_core/internal/http/middleware"
	"payments_core/internal/logger"
	"payments_core/internal/repository"
	"payments_core/internal/service"
	"payments_core/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// StatsSource summarises balances and transaction volumes for operators.
type StatsSource interface {
	Platform(ctx context.Context) (*repository.PlatformStats, error)
}

type Handler struct {
	Payments    *service.PaymentService
	Reconciler  *service.Reconciler
	Ledger      *service.LedgerService
	Commissions *service.CommissionService
	Poller      *service.Poller
	Gateways    *gateway.Registry
	Store       store.Store
	Stats       StatsSource
	// Production hides internal error text from responses.
	Production bool
}

func getUserID(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func pageSize(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// respondError maps service and gateway errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		limitErr *service.LimitError
		keyErr   *gateway.InvalidPayeeKeyError
		te       *gateway.TransportError
		ae       *gateway.AuthError
		ve       *gateway.ValidationError
	)
	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "min": limitErr.Min, "max": limitErr.Max})
	case errors.As(err, &keyErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, gateway.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrUnknownTransaction):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, service.ErrAlreadyDispatched),
		errors.Is(err, service.ErrNotReconcilable),
		errors.Is(err, service.ErrNotCommissionable),
		errors.Is(err, service.ErrOutsideWithdrawWindow):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &te), errors.As(err, &ae), errors.As(err, &ve):
		logger.FromContext(c.Request.Context()).Warn("provider call failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": h.publicError(err, "payment provider unavailable")})
	default:
		logger.FromContext(c.Request.Context()).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": h.publicError(err, "internal error")})
	}
}

func (h *Handler) publicError(err error, generic string) string {
	if h.Production {
		return generic
	}
	return err.Error()
}
