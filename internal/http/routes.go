package http

import (
	"time"

	"payments_core/internal/config"
	"payments_core/internal/http/handlers"
	"payments_core/internal/http/middleware"
	"payments_core/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Handler *handlers.Handler
	Health  *handlers.HealthHandler
	Hub     *ws.Hub
	Limiter *middleware.RateLimiter
}

func RegisterRoutes(r *gin.Engine, cfg *config.Config, d Deps) {
	r.Use(middleware.RequestLogger(), middleware.CORS(cfg.AllowedOrigin))

	// Health checks and metrics (no rate limiting)
	r.GET("/healthz", d.Health.Liveness)
	r.GET("/readyz", d.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks: limited per source IP, authenticated by signature
	r.POST("/webhooks/:provider", d.Limiter.Limit("webhook", cfg.WebhookRateLimit, time.Minute, middleware.ByIP), d.Handler.Webhook)

	if d.Hub != nil {
		r.GET("/ws", ws.HandleWS(d.Hub, cfg.AllowedOrigin))
	}

	h := d.Handler
	v1 := r.Group("/api/v1")
	v1.Use(d.Limiter.Limit("api", cfg.APIRateLimit, cfg.APIRateWindow, middleware.ByIP))
	v1.GET("/providers", h.Providers)

	user := v1.Group("")
	user.Use(middleware.JWT())
	{
		user.GET("/balance", h.Balance)
		user.GET("/ledger", h.LedgerHistory)
		user.GET("/transactions", h.Transactions)
		user.GET("/transactions/:id", h.Transaction)
		user.POST("/deposits", h.CreateDeposit)
		user.POST("/withdrawals", d.Limiter.Limit("withdraw", 5, time.Minute, middleware.ByUser), h.CreateWithdrawal)
		user.POST("/withdrawals/:id/cancel", h.CancelWithdrawal)
		user.POST("/purchases", h.Purchase)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.JWT(), middleware.AdminOnly(cfg.AdminUserIDs))
	{
		admin.GET("/stats", h.AdminStats)
		admin.GET("/pending", h.AdminPending)
		admin.POST("/transactions/:id/approve", h.AdminApprove)
		admin.POST("/transactions/:id/reject", h.AdminReject)
		admin.POST("/transactions/:id/dispatch", h.AdminDispatch)
		admin.POST("/transactions/:id/commissions/replay", h.AdminReplayCommissions)
		admin.POST("/users/:id/adjust", h.AdminAdjust)
		admin.GET("/verify", h.AdminVerify)
		admin.POST("/poll", h.AdminPoll)
	}
}
