package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"payments_core/internal/config"
	"payments_core/internal/domain"
	"payments_core/internal/gateway"
	"payments_core/internal/http/middleware"
	"payments_core/internal/lock"
	"payments_core/internal/service"
	"payments_core/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testSlug = "testpay"

// testAdapter signs webhooks with a fixed "sig" field.
type testAdapter struct {
	mu    sync.Mutex
	seq   int
	inErr error
}

func (a *testAdapter) Slug() string { return testSlug }

func (a *testAdapter) ValidatePayee(key string) error {
	_, _, err := gateway.ParsePixKey(key)
	return err
}

func (a *testAdapter) CashIn(context.Context, gateway.CashInRequest) (*gateway.CashInResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inErr != nil {
		return nil, a.inErr
	}
	a.seq++
	return &gateway.CashInResult{ProviderTransactionID: fmt.Sprintf("tp-%d", a.seq), PaymentCode: "000201pix"}, nil
}

func (a *testAdapter) CashOut(_ context.Context, req gateway.CashOutRequest) (*gateway.CashOutResult, error) {
	if _, _, err := gateway.ParsePixKey(req.PayeeKey); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return &gateway.CashOutResult{ProviderTransactionID: fmt.Sprintf("tp-%d", a.seq), Status: domain.GatewayPending}, nil
}

func (a *testAdapter) ParseWebhook(_ context.Context, body []byte, _ http.Header) (*domain.WebhookEvent, error) {
	var p struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Amount decimal.Decimal `json:"amount"`
		Sig    string          `json:"sig"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &gateway.WebhookShapeError{Provider: testSlug, Field: "body", Msg: err.Error()}
	}
	if p.Sig != "good" {
		return nil, gateway.ErrInvalidSignature
	}
	if p.ID == "" {
		return nil, &gateway.WebhookShapeError{Provider: testSlug, Field: "id"}
	}
	return &domain.WebhookEvent{
		Provider:              testSlug,
		ProviderTransactionID: p.ID,
		Status:                domain.GatewayStatus(p.Status),
		Amount:                p.Amount,
		Raw:                   body,
	}, nil
}

type env struct {
	mem     *store.Memory
	adapter *testAdapter
	handler *Handler
	router  *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, service.InitJWT("handlers-secret"))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := store.NewMemory()
	adapter := &testAdapter{}
	settings := config.DefaultSettings()
	registry := gateway.NewRegistry(adapter)

	ledger := service.NewLedgerService(mem, nil, settings.Currency)
	commissions := service.NewCommissionService(mem, ledger, settings.Commission)
	reconciler := service.NewReconciler(service.ReconcilerDeps{
		Store:       mem,
		Locker:      lock.NewRedisLocker(rdb),
		Commissions: commissions,
		Tolerance:   settings.Reconcile.AmountTolerance,
	})
	payments := service.NewPaymentService(service.PaymentDeps{
		Store:       mem,
		Gateways:    registry,
		Ledger:      ledger,
		Reconciler:  reconciler,
		Commissions: commissions,
		Settings:    settings,
	})
	h := &Handler{
		Payments:    payments,
		Reconciler:  reconciler,
		Ledger:      ledger,
		Commissions: commissions,
		Poller:      service.NewPoller(mem, registry, reconciler, settings.Poller),
		Gateways:    registry,
		Store:       mem,
	}

	r := gin.New()
	r.POST("/webhooks/:provider", h.Webhook)
	user := r.Group("/api/v1", middleware.JWT())
	user.GET("/balance", h.Balance)
	user.GET("/ledger", h.LedgerHistory)
	user.GET("/transactions", h.Transactions)
	user.GET("/transactions/:id", h.Transaction)
	user.POST("/deposits", h.CreateDeposit)
	user.POST("/withdrawals", h.CreateWithdrawal)
	user.POST("/withdrawals/:id/cancel", h.CancelWithdrawal)
	user.POST("/purchases", h.Purchase)
	admin := r.Group("/api/v1/admin", middleware.JWT(), middleware.AdminOnly([]int64{99}))
	admin.GET("/stats", h.AdminStats)
	admin.GET("/pending", h.AdminPending)
	admin.POST("/transactions/:id/approve", h.AdminApprove)
	admin.POST("/transactions/:id/reject", h.AdminReject)
	admin.POST("/transactions/:id/dispatch", h.AdminDispatch)
	admin.POST("/transactions/:id/commissions/replay", h.AdminReplayCommissions)
	admin.POST("/users/:id/adjust", h.AdminAdjust)
	admin.GET("/verify", h.AdminVerify)
	admin.POST("/poll", h.AdminPoll)

	mem.AddUser(domain.User{ID: 1})
	mem.AddUser(domain.User{ID: 2})
	mem.AddUser(domain.User{ID: 99})
	return &env{mem: mem, adapter: adapter, handler: h, router: r}
}

// call sends a JSON request as userID (0 means anonymous) and decodes the response into a map.
func (e *env) call(t *testing.T, method, path string, userID int64, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := service.GenerateJWT(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (e *env) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	u, err := e.mem.User(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}
