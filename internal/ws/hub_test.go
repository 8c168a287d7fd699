package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payments_core/internal/notify"
	"payments_core/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHub(t *testing.T) (*Hub, redis.UniversalClient, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, service.InitJWT("ws-test-secret"))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(rdb)
	require.NoError(t, hub.Start(ctx))

	r := gin.New()
	r.GET("/ws", HandleWS(hub, ""))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, rdb, srv
}

func dial(t *testing.T, srv *httptest.Server, userID int64) *websocket.Conn {
	t.Helper()
	token, err := service.GenerateJWT(userID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var ready message
	readJSON(t, conn, &ready)
	require.Equal(t, MsgReady, ready.Type)
	require.Equal(t, userID, ready.UserID)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestEventsReachOnlyTheirUser(t *testing.T) {
	_, rdb, srv := setupHub(t)
	alice := dial(t, srv, 1)
	bob := dial(t, srv, 2)

	pub := notify.NewRedisPublisher(rdb)
	bal := decimal.RequireFromString("150")
	require.NoError(t, pub.Publish(context.Background(), notify.Event{
		Type:    notify.EventBalanceChanged,
		UserID:  1,
		Amount:  decimal.RequireFromString("50"),
		Balance: &bal,
	}))

	var got notify.Event
	readJSON(t, alice, &got)
	assert.Equal(t, notify.EventBalanceChanged, got.Type)
	assert.Equal(t, int64(1), got.UserID)
	require.NotNil(t, got.Balance)
	assert.True(t, got.Balance.Equal(bal))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestPingPong(t *testing.T) {
	_, _, srv := setupHub(t)
	conn := dial(t, srv, 7)

	require.NoError(t, conn.WriteJSON(message{Type: MsgPing}))
	var pong message
	readJSON(t, conn, &pong)
	assert.Equal(t, MsgPong, pong.Type)
}

func TestRejectsMissingOrBadToken(t *testing.T) {
	_, _, srv := setupHub(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnregisterOnClose(t *testing.T) {
	hub, _, srv := setupHub(t)
	conn := dial(t, srv, 3)
	assert.Equal(t, 1, hub.Online(3))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Online(3) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Deliver(3, []byte(`{}`)))
}

func TestParseUserChannel(t *testing.T) {
	id, ok := notify.ParseUserChannel(notify.UserChannel(42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, ch := range []string{"events:user:", "events:user:x", "other:42", "events:user:-1"} {
		_, ok := notify.ParseUserChannel(ch)
		assert.False(t, ok, ch)
	}
}
