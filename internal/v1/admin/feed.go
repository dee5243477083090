// Package admin exposes the operator HTTP surface: REST endpoints over the
// hub's admin operations and a WebSocket feed of lifecycle events.
package admin

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/auth"
	"github.com/tempolink/tempolink/internal/v1/logging"
)

const (
	feedSendBuffer = 64
	feedWriteWait  = 10 * time.Second
)

// Event is one entry on the operator feed.
type Event struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

type subscriber struct {
	send      chan Event
	closeOnce sync.Once
}

// Feed fans lifecycle events out to connected operator WebSockets. It
// implements the hub's event sink; Emit never blocks, a subscriber that
// cannot keep up loses events.
type Feed struct {
	validator      auth.TokenValidator
	allowedOrigins []string

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewFeed creates a Feed authenticating subscribers with the given
// validator.
func NewFeed(validator auth.TokenValidator, allowedOrigins []string) *Feed {
	return &Feed{
		validator:      validator,
		allowedOrigins: allowedOrigins,
		subs:           make(map[*subscriber]struct{}),
	}
}

// Emit broadcasts an event to every subscriber. Safe to call from any
// goroutine, including while the hub's state mutex is held.
func (f *Feed) Emit(event string, data map[string]any) {
	e := Event{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.send <- e:
		default:
			// Slow subscriber; the event is dropped, not the connection.
		}
	}
}

func (f *Feed) register(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[s] = struct{}{}
}

// unregister removes the subscriber and closes its channel so the write
// pump drains out. Closing under the mutex cannot race Emit: events are
// only enqueued while the subscriber is still in the map.
func (f *Feed) unregister(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		s.closeOnce.Do(func() { close(s.send) })
	}
}

// ServeWS handles GET /v1/admin/ws. The token travels as a query
// parameter because browser WebSocket clients cannot set headers.
func (f *Feed) ServeWS(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := f.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !claims.HasScope(auth.ScopeRead) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: f.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "event feed upgrade failed", zap.Error(err))
		return
	}

	s := &subscriber{send: make(chan Event, feedSendBuffer)}
	f.register(s)

	go f.writePump(conn, s)
	go f.readPump(conn, s)
}

func (f *Feed) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range f.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

func (f *Feed) writePump(conn *websocket.Conn, s *subscriber) {
	defer func() { _ = conn.Close() }()
	for e := range s.send {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			f.unregister(s)
			return
		}
	}
}

// readPump discards inbound frames; its job is to notice the close.
func (f *Feed) readPump(conn *websocket.Conn, s *subscriber) {
	defer func() {
		f.unregister(s)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logging.Info(context.Background(), "event feed subscriber disconnected", zap.Error(err))
			return
		}
	}
}
