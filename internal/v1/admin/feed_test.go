package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempolink/tempolink/internal/v1/auth"
)

func dialFeed(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/admin/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestFeed_RejectsMissingToken(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/v1/admin/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFeed_RejectsInvalidToken(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/v1/admin/ws?token=garbage", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFeed_RejectsMissingScope(t *testing.T) {
	router := newTestRouter(t)
	token := signedToken(t, "")

	w := do(t, router, http.MethodGet, "/v1/admin/ws?token="+token, "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFeed_DeliversEvents(t *testing.T) {
	validator, err := auth.NewValidator(routerTestSecret)
	require.NoError(t, err)
	feed := NewFeed(validator, nil)

	router := gin.New()
	router.GET("/v1/admin/ws", feed.ServeWS)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	conn := dialFeed(t, ts, signedToken(t, auth.ScopeRead))

	feed.Emit("room_created", map[string]any{"roomId": "lobby"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "room_created", e.Event)
	assert.Equal(t, "lobby", e.Data["roomId"])
	assert.NotEmpty(t, e.Timestamp)
}

func TestFeed_EmitWithoutSubscribers(t *testing.T) {
	validator, err := auth.NewValidator(routerTestSecret)
	require.NoError(t, err)
	feed := NewFeed(validator, nil)

	// Must be a no-op, not a panic or a block.
	feed.Emit("room_created", map[string]any{"roomId": "lobby"})
}

func TestFeed_SlowSubscriberDropsEvents(t *testing.T) {
	validator, err := auth.NewValidator(routerTestSecret)
	require.NoError(t, err)
	feed := NewFeed(validator, nil)

	s := &subscriber{send: make(chan Event)} // no buffer, never read
	feed.register(s)
	defer feed.unregister(s)

	done := make(chan struct{})
	go func() {
		feed.Emit("game_started", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestFeed_CheckOrigin(t *testing.T) {
	feed := NewFeed(nil, []string{"https://ops.example.com"})

	mkReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/admin/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, feed.checkOrigin(mkReq("")), "non-browser clients pass")
	assert.True(t, feed.checkOrigin(mkReq("https://ops.example.com")))
	assert.False(t, feed.checkOrigin(mkReq("https://evil.example.com")))
	assert.False(t, feed.checkOrigin(mkReq("http://ops.example.com")), "scheme must match")
}
