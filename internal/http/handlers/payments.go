package handlers

import (
	"net/http"

	"payments_core/internal/domain"
	"payments_core/internal/gateway"
	"payments_core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type depositRequest struct {
	Provider      string          `json:"provider" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PayerName     string          `json:"payer_name"`
	PayerDocument string          `json:"payer_document"`
	PayerEmail    string          `json:"payer_email"`
}

func (h *Handler) CreateDeposit(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	t, err := h.Payments.RequestDeposit(c.Request.Context(), service.DepositRequest{
		UserID:   userID,
		Provider: req.Provider,
		Amount:   req.Amount,
		Payer:    gateway.Payer{Name: req.PayerName, Document: req.PayerDocument, Email: req.PayerEmail},
	})
	if err != nil {
		if t != nil {
			// recorded but the provider did not answer; it expires unless a webhook arrives
			c.JSON(http.StatusBadGateway, gin.H{"error": h.publicError(err, "payment provider unavailable"), "transaction_id": t.ID})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": t.ID,
		"status":         t.Status,
		"amount":         t.Amount,
		"currency":       t.Currency,
		"payment_code":   t.PaymentCode,
	})
}

type withdrawalRequest struct {
	Provider  string          `json:"provider" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	PayeeKey  string          `json:"payee_key" binding:"required"`
	PayeeName string          `json:"payee_name"`
}

func (h *Handler) CreateWithdrawal(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	t, err := h.Payments.RequestWithdrawal(c.Request.Context(), service.WithdrawalRequest{
		UserID:    userID,
		Provider:  req.Provider,
		Amount:    req.Amount,
		PayeeKey:  req.PayeeKey,
		PayeeName: req.PayeeName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction_id": t.ID, "status": t.Status, "amount": t.Amount})
}

func (h *Handler) CancelWithdrawal(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	outcome, err := h.Payments.CancelWithdrawal(c.Request.Context(), userID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "outcome": outcome})
}

type purchaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Item   string          `json:"item" binding:"required"`
}

func (h *Handler) Purchase(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	t, err := h.Payments.Purchase(c.Request.Context(), userID, req.Amount, req.Item)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction_id": t.ID, "amount": t.Amount})
}

func (h *Handler) Balance(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	bal, err := h.Ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": bal})
}

func (h *Handler) Transactions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	list, err := h.Ledger.Transactions(c.Request.Context(), userID, pageSize(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []*domain.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func (h *Handler) Transaction(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	t, err := h.Store.TransactionByID(c.Request.Context(), id)
	if err != nil || t.UserID != userID {
		// another user's transaction is indistinguishable from a missing one
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) LedgerHistory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	entries, err := h.Ledger.History(c.Request.Context(), userID, pageSize(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.Gateways.Slugs()})
}
