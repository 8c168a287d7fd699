package http

import (
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"payments_core/internal/config"
	"payments_core/internal/gateway"
	"payments_core/internal/http/handlers"
	"payments_core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, service.InitJWT("routes-secret"))

	cfg := &config.Config{AllowedOrigin: "*", AdminUserIDs: []int64{7}}
	r := gin.New()
	RegisterRoutes(r, cfg, Deps{
		Handler: &handlers.Handler{Gateways: gateway.NewRegistry()},
		Health:  handlers.NewHealthHandler("test", nil),
	})
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	if userID != 0 {
		token, err := service.GenerateJWT(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPublicRoutes(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, stdhttp.StatusOK, do(t, r, "GET", "/healthz", 0).Code)
	assert.Equal(t, stdhttp.StatusOK, do(t, r, "GET", "/readyz", 0).Code)
	assert.Equal(t, stdhttp.StatusOK, do(t, r, "GET", "/metrics", 0).Code)

	w := do(t, r, "GET", "/api/v1/providers", 0)
	require.Equal(t, stdhttp.StatusOK, w.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body["providers"])

	assert.Equal(t, stdhttp.StatusNotFound, do(t, r, "POST", "/webhooks/unknown", 0).Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestProtectedRoutes(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, stdhttp.StatusUnauthorized, do(t, r, "GET", "/api/v1/balance", 0).Code)
	assert.Equal(t, stdhttp.StatusUnauthorized, do(t, r, "GET", "/api/v1/admin/pending", 0).Code)
	assert.Equal(t, stdhttp.StatusForbidden, do(t, r, "GET", "/api/v1/admin/pending", 3).Code)
	assert.Equal(t, stdhttp.StatusNotFound, do(t, r, "GET", "/ws", 0).Code)
}
