// Package session implements the multiplayer coordination core: the user
// and room registries, the room state machine, and the per-connection
// command handlers. All shared state is serialised by a single hub-wide
// mutex; upstream HTTP calls and replay file I/O always happen outside it.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/config"
	"github.com/tempolink/tempolink/internal/v1/identity"
	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/replay"
	"github.com/tempolink/tempolink/internal/v1/transport"
	"github.com/tempolink/tempolink/internal/v1/types"
	"k8s.io/utils/set"
)

const identityCallTimeout = identity.RequestTimeout + 2*time.Second

// EventSink receives lifecycle events for the operator feed. Emit must not
// block: it is called while the state mutex is held.
type EventSink interface {
	Emit(event string, data map[string]any)
}

// Hub owns every session, user and room on this server.
type Hub struct {
	cfg      *config.Config
	identity *identity.Client
	quotes   *identity.QuoteCache
	recorder *replay.Recorder
	events   EventSink

	mu       sync.Mutex
	sessions map[string]*Client
	users    map[types.UserID]*User
	rooms    map[types.RoomID]*Room

	bannedUsers     set.Set[types.UserID]
	bannedRoomUsers map[types.RoomID]set.Set[types.UserID]
	monitorAllowed  set.Set[types.UserID]

	replayEnabled       bool
	roomCreationEnabled bool
}

// NewHub wires the hub with its collaborators. events may be nil.
func NewHub(cfg *config.Config, idc *identity.Client, quotes *identity.QuoteCache, recorder *replay.Recorder, events EventSink) *Hub {
	h := &Hub{
		cfg:                 cfg,
		identity:            idc,
		quotes:              quotes,
		recorder:            recorder,
		events:              events,
		sessions:            make(map[string]*Client),
		users:               make(map[types.UserID]*User),
		rooms:               make(map[types.RoomID]*Room),
		bannedUsers:         set.New[types.UserID](),
		bannedRoomUsers:     make(map[types.RoomID]set.Set[types.UserID]),
		monitorAllowed:      set.New[types.UserID](),
		replayEnabled:       cfg.ReplayEnabled,
		roomCreationEnabled: cfg.RoomCreationEnabled,
	}
	for _, id := range cfg.Monitors {
		h.monitorAllowed.Insert(id)
	}
	return h
}

// Serve accepts connections until the listener closes.
func (h *Hub) Serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go h.handleConn(nc)
	}
}

func (h *Hub) handleConn(nc net.Conn) {
	conn := transport.NewConn(nc)
	if err := conn.Handshake(); err != nil {
		logging.Info(context.Background(), "handshake failed",
			zap.String("remote_addr", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}

	c := newClient(h, conn)
	h.mu.Lock()
	h.sessions[conn.ID] = c
	h.mu.Unlock()

	logging.Info(context.Background(), "connection established",
		zap.String("session_id", conn.ID), zap.String("remote_addr", conn.RemoteAddr()))

	conn.Start(c.onCommand, func(err error) { h.handleLoss(c, err) })
	go c.heartbeatLoop()
}

// handleLoss runs exactly once per started connection. A player mid-game
// is removed immediately so the round can settle; otherwise the user
// dangles for a grace window before cleanup.
func (h *Hub) handleLoss(c *Client, err error) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	close(c.hbStop)
	delete(h.sessions, c.conn.ID)

	u := c.user
	var post []func()
	if u != nil && u.client == c {
		u.client = nil
		h.emit("user_offline", map[string]any{"userId": int32(u.ID), "name": u.Name})
		if !c.preserveRoomOnLoss {
			r := h.rooms[u.RoomID]
			if r != nil && r.State == RoomPlaying && r.findUser(u.ID) != nil {
				post = h.removeUserLocked(u)
			} else {
				token := u.markDangle()
				uid := u.ID
				time.AfterFunc(dangleWindow, func() { h.expireDangle(uid, token) })
			}
		}
	}
	h.mu.Unlock()

	if err != nil {
		logging.Info(context.Background(), "connection lost",
			zap.String("session_id", c.conn.ID), zap.Error(err))
	}
	runAll(post)
}

// expireDangle fires after the grace window; a token mismatch means the
// user reconnected (or a newer disconnect superseded this one).
func (h *Hub) expireDangle(uid types.UserID, token uint64) {
	h.mu.Lock()
	var post []func()
	if u := h.users[uid]; u != nil && u.isStillDangling(token) {
		post = h.removeUserLocked(u)
	}
	h.mu.Unlock()
	runAll(post)
}

// removeUserLocked drops the user from its room (if any) and from the
// registry.
func (h *Hub) removeUserLocked(u *User) []func() {
	var post []func()
	if r := h.rooms[u.RoomID]; r != nil && r.isMember(u.ID) {
		post = h.leaveRoomLocked(u, r)
	}
	delete(h.users, u.ID)
	return post
}

// leaveRoomLocked removes a member, migrating the host and recycling the
// room when the last player leaves. It also re-checks phase progress the
// departure may have unblocked.
func (h *Hub) leaveRoomLocked(u *User, r *Room) []func() {
	r.broadcastMessage(protocol.RoomMessage{
		Kind: protocol.MessageLeaveRoom, User: int32(u.ID), Name: u.Name,
	})

	wasHost := r.HostID == u.ID
	r.removeUser(u.ID)
	u.RoomID = ""
	u.Monitor = false
	h.emit("user_left", map[string]any{"roomId": string(r.ID), "userId": int32(u.ID)})

	if len(r.Users) == 0 {
		return h.removeRoomLocked(r)
	}
	metrics.RoomPlayers.WithLabelValues(string(r.ID)).Set(float64(len(r.Users)))

	if wasHost {
		newHost := r.Users[0]
		r.HostID = newHost.ID
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageNewHost, User: int32(newHost.ID), Name: newHost.Name,
		})
		newHost.TrySend(protocol.ChangeHost{IsHost: true})
	}

	switch r.State {
	case RoomPlaying:
		return h.settleIfCompleteLocked(r)
	case RoomWaitForReady:
		return h.checkAllReadyLocked(r)
	}
	return nil
}

// removeRoomLocked recycles a room: remaining monitors are detached and
// the room disappears from the registry.
func (h *Hub) removeRoomLocked(r *Room) []func() {
	for _, m := range r.Monitors {
		m.TrySend(protocol.Message{Msg: protocol.RoomMessage{
			Kind: protocol.MessageLeaveRoom, User: int32(m.ID), Name: m.Name,
		}})
		m.RoomID = ""
		m.Monitor = false
	}
	delete(h.rooms, r.ID)
	delete(h.bannedRoomUsers, r.ID)
	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.DeleteLabelValues(string(r.ID))
	h.emit("room_disbanded", map[string]any{"roomId": string(r.ID)})

	rid := r.ID
	return []func(){func() { h.recorder.EndRoom(rid) }}
}

// disbandLocked evicts every member, then recycles the room.
func (h *Hub) disbandLocked(r *Room) []func() {
	for _, u := range r.Users {
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageLeaveRoom, User: int32(u.ID), Name: u.Name,
		})
		u.RoomID = ""
		u.Monitor = false
	}
	r.Users = nil
	return h.removeRoomLocked(r)
}

// checkAllReadyLocked starts the game once every member has confirmed,
// unless the room's contest requires a manual start.
func (h *Hub) checkAllReadyLocked(r *Room) []func() {
	if r.State != RoomWaitForReady {
		return nil
	}
	if r.Contest != nil && r.Contest.ManualStart {
		return nil
	}
	if !r.allReady() {
		return nil
	}
	return h.startPlayingLocked(r)
}

// startPlayingLocked transitions WaitForReady -> Playing.
func (h *Hub) startPlayingLocked(r *Room) []func() {
	r.State = RoomPlaying
	r.started = nil
	r.results = make(map[types.UserID]types.Record)
	r.resultOrder = nil
	r.aborted = set.New[types.UserID]()
	for _, u := range r.Users {
		u.GameTime = float32(math.Inf(-1))
	}

	r.broadcastMessage(protocol.RoomMessage{Kind: protocol.MessageStartPlaying})
	r.broadcastState()
	h.emit("game_started", map[string]any{"roomId": string(r.ID), "chartId": r.Chart.ID})

	if !r.ReplayEligible || !h.replayEnabled {
		return nil
	}
	rid := r.ID
	chartID := r.Chart.ID
	ids := make([]types.UserID, 0, len(r.Users))
	for _, u := range r.Users {
		ids = append(ids, u.ID)
	}
	return []func(){func() { h.recorder.StartRoom(rid, chartID, ids) }}
}

// settleIfCompleteLocked ends the game once every player has uploaded or
// aborted: summary chat, GameEnd, back to chart selection, then contest
// auto-disband or host cycling.
func (h *Hub) settleIfCompleteLocked(r *Room) []func() {
	if r.State != RoomPlaying || !r.playersCovered() {
		return nil
	}

	if summary := settlementSummary(r); summary != "" {
		r.broadcast(systemChat(summary))
	}
	r.broadcastMessage(protocol.RoomMessage{Kind: protocol.MessageGameEnd})

	r.State = RoomSelectChart
	r.results = nil
	r.resultOrder = nil
	r.aborted = nil
	h.emit("game_settled", map[string]any{"roomId": string(r.ID)})

	rid := r.ID
	post := []func(){func() { h.recorder.EndRoom(rid) }}

	if r.Contest != nil && r.Contest.AutoDisband {
		return append(post, h.disbandLocked(r)...)
	}

	r.broadcastState()
	if r.Cycle && len(r.Users) > 1 {
		h.rotateHostLocked(r)
	}
	return post
}

// rotateHostLocked hands the host role to the next player in join order.
func (h *Hub) rotateHostLocked(r *Room) {
	idx := 0
	for i, u := range r.Users {
		if u.ID == r.HostID {
			idx = i
			break
		}
	}
	old := r.Users[idx]
	next := r.Users[(idx+1)%len(r.Users)]
	if next.ID == old.ID {
		return
	}
	r.HostID = next.ID
	r.broadcastMessage(protocol.RoomMessage{
		Kind: protocol.MessageNewHost, User: int32(next.ID), Name: next.Name,
	})
	old.TrySend(protocol.ChangeHost{IsHost: false})
	next.TrySend(protocol.ChangeHost{IsHost: true})
}

// settlementSummary ranks the uploaded results: best score, best accuracy,
// lowest timing deviation. Ties keep the earliest upload.
func settlementSummary(r *Room) string {
	if len(r.resultOrder) == 0 {
		return ""
	}

	best := func(better func(a, b types.Record) bool) (types.UserID, types.Record) {
		winID := r.resultOrder[0]
		win := r.results[winID]
		for _, id := range r.resultOrder[1:] {
			rec := r.results[id]
			if better(rec, win) {
				winID, win = id, rec
			}
		}
		return winID, win
	}

	scoreID, score := best(func(a, b types.Record) bool { return a.Score > b.Score })
	accID, acc := best(func(a, b types.Record) bool { return a.Accuracy > b.Accuracy })
	stdID, std := best(func(a, b types.Record) bool { return a.Std < b.Std })

	name := func(id types.UserID) string {
		if u := r.findUser(id); u != nil {
			return u.Name
		}
		return fmt.Sprint(int32(id))
	}

	return fmt.Sprintf("best score: %s (%d) | best accuracy: %s (%.2f%%) | best std: %s (%dms)",
		name(scoreID), score.Score,
		name(accID), acc.Accuracy*100,
		name(stdID), int(math.Round(float64(std.Std)*1000)))
}

// emit forwards a lifecycle event to the operator feed, if one is wired.
// Must be called with the state mutex held; sinks are non-blocking.
func (h *Hub) emit(event string, data map[string]any) {
	if h.events != nil {
		h.events.Emit(event, data)
	}
}

// Shutdown closes every live connection and waits (bounded by ctx) for
// their pumps to drain.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	conns := make([]*transport.Conn, 0, len(h.sessions))
	for _, c := range h.sessions {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	for _, conn := range conns {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			return
		}
	}
}

func runAll(fns []func()) {
	for _, f := range fns {
		f()
	}
}
