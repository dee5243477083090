package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/transport"
	"github.com/tempolink/tempolink/internal/v1/types"
)

const (
	heartbeatInterval = 500 * time.Millisecond
	heartbeatTimeout  = 30 * time.Second
	dangleWindow      = 10 * time.Second
)

// Client is one authenticated-or-pending connection. It pairs a transport
// connection with the User it authenticates as; user, waitingAuth, closed
// and preserveRoomOnLoss are guarded by the hub's state mutex.
type Client struct {
	hub  *Hub
	conn *transport.Conn

	user        *User
	waitingAuth bool
	closed      bool

	// preserveRoomOnLoss keeps the user's room membership across the
	// disconnect, used when an operator evicts a session on purpose.
	preserveRoomOnLoss bool

	hbStop chan struct{}
}

func newClient(h *Hub, conn *transport.Conn) *Client {
	return &Client{
		hub:         h,
		conn:        conn,
		waitingAuth: true,
		hbStop:      make(chan struct{}),
	}
}

// onCommand is invoked sequentially by the read pump.
func (c *Client) onCommand(cmd protocol.ClientCommand) {
	name := protocol.CommandName(cmd)
	start := time.Now()
	defer func() {
		metrics.CommandProcessingDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	switch cmd := cmd.(type) {
	case protocol.Ping:
		// Answered even before authentication.
		c.conn.Send(protocol.Pong{})
		metrics.Commands.WithLabelValues(name, "success").Inc()
	case protocol.Authenticate:
		c.handleAuthenticate(cmd)
	default:
		c.hub.dispatch(c, cmd)
	}
}

// heartbeatLoop closes connections that have gone silent. Any received
// byte counts as liveness, so an active player never needs explicit pings.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.hbStop:
			return
		case <-ticker.C:
			if time.Since(c.conn.LastRecv()) > heartbeatTimeout {
				logging.Info(context.Background(), "closing silent connection",
					zap.String("session_id", c.conn.ID))
				c.conn.Close()
				return
			}
		}
	}
}

// handleAuthenticate resolves the token upstream, then attaches the
// session to its User under the state lock. The upstream call happens
// outside the lock; attachment is re-checked afterwards.
func (c *Client) handleAuthenticate(cmd protocol.Authenticate) {
	h := c.hub

	h.mu.Lock()
	if c.user != nil {
		h.mu.Unlock()
		c.conn.Send(protocol.AuthenticateResp{Err: string(types.CodeAuthRepeatedAuthenticate)})
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		metrics.Commands.WithLabelValues("Authenticate", "error").Inc()
		return
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), identityCallTimeout)
	me, err := h.identity.Me(ctx, cmd.Token)
	cancel()
	if err != nil {
		logging.Info(context.Background(), "authentication rejected",
			zap.String("session_id", c.conn.ID),
			zap.String("token", logging.RedactToken(cmd.Token)),
			zap.Error(err))
		c.conn.Send(protocol.AuthenticateResp{Err: errCode(err)})
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		metrics.Commands.WithLabelValues("Authenticate", "error").Inc()
		return
	}

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	if c.user != nil {
		h.mu.Unlock()
		c.conn.Send(protocol.AuthenticateResp{Err: string(types.CodeAuthRepeatedAuthenticate)})
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return
	}
	if h.bannedUsers.Has(me.ID) {
		h.mu.Unlock()
		c.conn.Send(protocol.AuthenticateResp{Err: string(types.CodeUserBannedByServer)})
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		metrics.Commands.WithLabelValues("Authenticate", "error").Inc()
		return
	}

	u := h.users[me.ID]
	switch {
	case u == nil:
		u = newUser(me)
		h.users[me.ID] = u
	case u.client == nil:
		// Dangling user reconnecting; attach resumes the room.
	case u.client.conn.IsClosed():
		// The old socket died but its loss has not been processed yet.
		// Re-attaching supersedes it: the pending loss sees a different
		// client on the user and leaves room membership alone.
		u.client = nil
	default:
		h.mu.Unlock()
		c.conn.Send(protocol.AuthenticateResp{Err: string(types.CodeAuthAccountAlreadyOnline)})
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return
	}

	u.Name = me.Name
	u.Language = me.Language
	u.attach(c)
	c.user = u
	c.waitingAuth = false

	var snapshot *protocol.RoomSnapshot
	if u.RoomID != "" {
		if r := h.rooms[u.RoomID]; r != nil && r.isMember(u.ID) {
			snapshot = r.snapshotFor(u)
		} else {
			u.RoomID = ""
			u.Monitor = false
		}
	}
	c.conn.Send(protocol.AuthenticateResp{Me: u.WireInfo(), Room: snapshot})
	h.emit("user_online", map[string]any{"userId": int32(u.ID), "name": u.Name})
	h.mu.Unlock()

	logging.Info(context.Background(), "user authenticated",
		zap.String("session_id", c.conn.ID), zap.Int32("user_id", int32(u.ID)))
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	metrics.Commands.WithLabelValues("Authenticate", "success").Inc()

	c.sendWelcome()
}

// sendWelcome pushes the server banner (and the optional room-list tip)
// as system chat. The quote fetch is best-effort and never holds the lock.
func (c *Client) sendWelcome() {
	h := c.hub

	ctx, cancel := context.WithTimeout(context.Background(), identityCallTimeout)
	quote := h.quotes.Get(ctx)
	cancel()

	banner := h.cfg.ServerName
	if quote != "" {
		banner += ": " + quote
	}
	c.conn.Send(systemChat(banner))
	if h.cfg.RoomListTip != "" {
		c.conn.Send(systemChat(h.cfg.RoomListTip))
	}
}

// systemChat wraps server-originated text as a chat message from user 0.
func systemChat(text string) protocol.ServerCommand {
	return protocol.Message{Msg: protocol.RoomMessage{
		Kind:    protocol.MessageChat,
		User:    0,
		Content: text,
	}}
}

// errCode flattens an error into its wire code; nil becomes "".
func errCode(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
