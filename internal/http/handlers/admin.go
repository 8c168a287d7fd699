package handlers

import (
	"net/http"
	"strconv"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (h *Handler) AdminPending(c *gin.Context) {
	list, err := h.Store.PendingTransactions(c.Request.Context(), time.Now(), pageSize(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []*domain.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func (h *Handler) AdminApprove(c *gin.Context) { h.adminSettle(c, true) }

func (h *Handler) AdminReject(c *gin.Context) { h.adminSettle(c, false) }

func (h *Handler) adminSettle(c *gin.Context, approve bool) {
	adminID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	outcome, err := h.Reconciler.SettleManually(c.Request.Context(), id, approve, adminID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "outcome": outcome})
}

func (h *Handler) AdminDispatch(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	outcome, err := h.Payments.DispatchWithdrawal(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "outcome": outcome})
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" binding:"required"`
}

func (h *Handler) AdminAdjust(c *gin.Context) {
	adminID, ok := getUserID(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount and note are required"})
		return
	}
	t, bal, err := h.Payments.Adjust(c.Request.Context(), adminID, userID, req.Amount, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": t.ID, "balance": bal})
}

func (h *Handler) AdminVerify(c *gin.Context) {
	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		v, err := h.Ledger.Verify(c.Request.Context(), userID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": v.OK(), "verification": v, "drift": v.Drift()})
		return
	}

	bad, err := h.Ledger.VerifyAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if bad == nil {
		bad = []*service.Verification{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": len(bad) == 0, "drifted": bad})
}

func (h *Handler) AdminReplayCommissions(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	paid, err := h.Commissions.Replay(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if paid == nil {
		paid = []service.Payout{}
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "payouts": paid})
}

// AdminPoll runs one recovery pass now instead of waiting for the ticker.
func (h *Handler) AdminPoll(c *gin.Context) {
	if h.Poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "poller disabled"})
		return
	}
	stats, err := h.Poller.Tick(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) AdminStats(c *gin.Context) {
	if h.Stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats unavailable"})
		return
	}
	stats, err := h.Stats.Platform(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
