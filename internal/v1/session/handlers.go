package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/types"
	"k8s.io/utils/set"
)

// dispatch routes an authenticated command to its handler. Commands that
// arrive before authentication are dropped (Ping and Authenticate are
// handled earlier by the client).
func (h *Hub) dispatch(c *Client, cmd protocol.ClientCommand) {
	name := protocol.CommandName(cmd)

	h.mu.Lock()
	authed := c.user != nil
	h.mu.Unlock()
	if !authed {
		metrics.Commands.WithLabelValues(name, "dropped").Inc()
		return
	}

	var err error
	switch cmd := cmd.(type) {
	case protocol.Chat:
		err = h.handleChat(c, cmd)
	case protocol.Touches:
		h.handleTouches(c, cmd)
	case protocol.Judges:
		h.handleJudges(c, cmd)
	case protocol.CreateRoom:
		err = h.handleCreateRoom(c, cmd)
	case protocol.JoinRoom:
		err = h.handleJoinRoom(c, cmd)
	case protocol.LeaveRoom:
		err = h.handleLeaveRoom(c)
	case protocol.LockRoom:
		err = h.handleLockRoom(c, cmd)
	case protocol.CycleRoom:
		err = h.handleCycleRoom(c, cmd)
	case protocol.SelectChart:
		err = h.handleSelectChart(c, cmd)
	case protocol.RequestStart:
		err = h.handleRequestStart(c)
	case protocol.Ready:
		err = h.handleReady(c)
	case protocol.CancelReady:
		err = h.handleCancelReady(c)
	case protocol.Played:
		err = h.handlePlayed(c, cmd)
	case protocol.Abort:
		err = h.handleAbort(c)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.Commands.WithLabelValues(name, status).Inc()
}

// ensureNotBannedLocked rejects a server-banned user and kicks them out of
// any room they are still in.
func (h *Hub) ensureNotBannedLocked(u *User) ([]func(), error) {
	if !h.bannedUsers.Has(u.ID) {
		return nil, nil
	}
	var post []func()
	if r := h.rooms[u.RoomID]; r != nil && r.isMember(u.ID) {
		post = h.leaveRoomLocked(u, r)
	}
	return post, types.CodeAuthBanned
}

// roomOf resolves the user's current room; callers hold the lock.
func (h *Hub) roomOf(u *User) (*Room, error) {
	r := h.rooms[u.RoomID]
	if r == nil || !r.isMember(u.ID) {
		return nil, types.CodeRoomNotFound
	}
	return r, nil
}

func (h *Hub) handleChat(c *Client, cmd protocol.Chat) error {
	h.mu.Lock()
	u := c.user
	post, err := h.ensureNotBannedLocked(u)
	if err == nil {
		var r *Room
		if r, err = h.roomOf(u); err == nil {
			r.broadcastMessage(protocol.RoomMessage{
				Kind:    protocol.MessageChat,
				User:    int32(u.ID),
				Name:    u.Name,
				Content: cmd.Message,
			})
		}
	}
	c.conn.Send(protocol.ChatResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

func (h *Hub) handleCreateRoom(c *Client, cmd protocol.CreateRoom) error {
	id := types.RoomID(cmd.RoomID)

	h.mu.Lock()
	u := c.user
	post, err := h.ensureNotBannedLocked(u)
	switch {
	case err != nil:
	case !h.roomCreationEnabled:
		err = types.CodeCreateDisabled
	case !id.Valid():
		err = types.CodeCreateInvalidID
	case u.RoomID != "":
		err = types.CodeRoomAlreadyInRoom
	case h.rooms[id] != nil:
		err = types.CodeCreateIDOccupied
	default:
		r := newRoom(id, u, h.cfg.RoomMaxUsers, h.replayEnabled)
		h.rooms[id] = r
		u.RoomID = id
		u.Monitor = false
		metrics.ActiveRooms.Inc()
		metrics.RoomPlayers.WithLabelValues(string(id)).Set(1)
		h.emit("room_created", map[string]any{"roomId": string(id), "hostId": int32(u.ID)})

		c.conn.Send(protocol.CreateRoomResp{})
		u.TrySend(protocol.ChangeHost{IsHost: true})
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageCreateRoom, User: int32(u.ID), Name: u.Name,
		})
		h.mu.Unlock()
		runAll(post)

		logging.Info(context.Background(), "room created",
			zap.String("room_id", string(id)), zap.Int32("user_id", int32(u.ID)))
		return nil
	}
	c.conn.Send(protocol.CreateRoomResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

// validateJoinLocked checks a join attempt in the order clients expect the
// failures to be reported.
func (h *Hub) validateJoinLocked(r *Room, u *User, monitor bool) error {
	if banned := h.bannedRoomUsers[r.ID]; banned.Has(u.ID) {
		return types.CodeRoomBanned
	}
	if r.Contest != nil && !r.Contest.Whitelist.Has(u.ID) {
		return types.CodeRoomNotWhitelisted
	}
	if r.Locked {
		return types.CodeJoinRoomLocked
	}
	if r.State != RoomSelectChart {
		return types.CodeJoinGameOngoing
	}
	if monitor && !h.monitorAllowed.Has(u.ID) {
		return types.CodeJoinCantMonitor
	}
	return nil
}

func (h *Hub) handleJoinRoom(c *Client, cmd protocol.JoinRoom) error {
	id := types.RoomID(cmd.RoomID)

	h.mu.Lock()
	u := c.user
	post, err := h.ensureNotBannedLocked(u)
	if err == nil {
		switch {
		case u.RoomID != "":
			err = types.CodeRoomAlreadyInRoom
		case h.rooms[id] == nil:
			err = types.CodeRoomNotFound
		default:
			r := h.rooms[id]
			if err = h.validateJoinLocked(r, u, cmd.Monitor); err == nil {
				if !r.addUser(u, cmd.Monitor) {
					err = types.CodeJoinRoomFull
				} else {
					u.RoomID = id
					u.Monitor = cmd.Monitor
					if r.Contest != nil {
						r.Contest.Whitelist.Insert(u.ID)
					}
					metrics.RoomPlayers.WithLabelValues(string(id)).Set(float64(len(r.Users)))
					h.emit("user_joined", map[string]any{
						"roomId": string(id), "userId": int32(u.ID), "monitor": cmd.Monitor,
					})

					c.conn.Send(protocol.JoinRoomResp{Room: r.snapshotFor(u)})
					r.broadcastExcept(u.ID, protocol.OnJoinRoom{User: u.WireInfo()})
					r.broadcastMessage(protocol.RoomMessage{
						Kind: protocol.MessageJoinRoom, User: int32(u.ID), Name: u.Name,
					})
					h.mu.Unlock()
					runAll(post)
					return nil
				}
			}
		}
	}
	c.conn.Send(protocol.JoinRoomResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

func (h *Hub) handleLeaveRoom(c *Client) error {
	h.mu.Lock()
	u := c.user
	r, err := h.roomOf(u)
	var post []func()
	if err == nil {
		c.conn.Send(protocol.LeaveRoomResp{})
		post = h.leaveRoomLocked(u, r)
	} else {
		c.conn.Send(protocol.LeaveRoomResp{Err: errCode(err)})
	}
	h.mu.Unlock()
	runAll(post)
	return err
}

func (h *Hub) handleLockRoom(c *Client, cmd protocol.LockRoom) error {
	h.mu.Lock()
	u := c.user
	r, err := h.roomOf(u)
	if err == nil && r.HostID != u.ID {
		err = types.CodeRoomOnlyHost
	}
	if err == nil {
		r.Locked = cmd.Lock
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageLockRoom, User: int32(u.ID), Name: u.Name, Lock: cmd.Lock,
		})
	}
	c.conn.Send(protocol.LockRoomResp{Err: errCode(err)})
	h.mu.Unlock()
	return err
}

func (h *Hub) handleCycleRoom(c *Client, cmd protocol.CycleRoom) error {
	h.mu.Lock()
	u := c.user
	r, err := h.roomOf(u)
	if err == nil && r.HostID != u.ID {
		err = types.CodeRoomOnlyHost
	}
	if err == nil {
		r.Cycle = cmd.Cycle
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageCycleRoom, User: int32(u.ID), Name: u.Name, Cycle: cmd.Cycle,
		})
	}
	c.conn.Send(protocol.CycleRoomResp{Err: errCode(err)})
	h.mu.Unlock()
	return err
}

// handleSelectChart validates under the lock, fetches chart metadata
// upstream without it, then re-validates before committing. A host change
// or phase change while the fetch was in flight rejects the stale result;
// concurrent selects resolve to whichever commit lands last.
func (h *Hub) handleSelectChart(c *Client, cmd protocol.SelectChart) error {
	h.mu.Lock()
	u := c.user
	post, err := h.ensureNotBannedLocked(u)
	var roomID types.RoomID
	if err == nil {
		var r *Room
		if r, err = h.roomOf(u); err == nil {
			roomID = r.ID
			if r.HostID != u.ID {
				err = types.CodeRoomOnlyHost
			} else if r.State != RoomSelectChart {
				err = types.CodeRoomInvalidState
			}
		}
	}
	h.mu.Unlock()
	runAll(post)
	if err != nil {
		c.conn.Send(protocol.SelectChartResp{Err: errCode(err)})
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), identityCallTimeout)
	chart, err := h.identity.Chart(ctx, cmd.ChartID)
	cancel()
	if err != nil {
		c.conn.Send(protocol.SelectChartResp{Err: errCode(err)})
		return err
	}

	h.mu.Lock()
	r := h.rooms[roomID]
	if r == nil || u.RoomID != roomID || r.HostID != u.ID || r.State != RoomSelectChart {
		err = types.CodeRoomInvalidState
	} else {
		r.Chart = &chart
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageSelectChart, User: int32(u.ID), Name: u.Name, ChartID: chart.ID,
		})
		r.broadcastState()
	}
	c.conn.Send(protocol.SelectChartResp{Err: errCode(err)})
	h.mu.Unlock()
	return err
}

func (h *Hub) handleRequestStart(c *Client) error {
	h.mu.Lock()
	u := c.user
	post, err := h.ensureNotBannedLocked(u)
	if err == nil {
		var r *Room
		switch r, err = h.roomOf(u); {
		case err != nil:
		case r.HostID != u.ID:
			err = types.CodeRoomOnlyHost
		case r.State != RoomSelectChart:
			err = types.CodeRoomInvalidState
		case r.Chart == nil:
			err = types.CodeStartNoChartSelected
		default:
			r.State = RoomWaitForReady
			r.started = set.New(u.ID)
			r.broadcastMessage(protocol.RoomMessage{
				Kind: protocol.MessageGameStart, User: int32(u.ID), Name: u.Name,
			})
			r.broadcastState()
			// A solo host is trivially all-ready.
			post = append(post, h.checkAllReadyLocked(r)...)
		}
	}
	c.conn.Send(protocol.RequestStartResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

func (h *Hub) handleReady(c *Client) error {
	h.mu.Lock()
	u := c.user
	post, err := h.ensureNotBannedLocked(u)
	if err == nil {
		var r *Room
		switch r, err = h.roomOf(u); {
		case err != nil:
		case r.State != RoomWaitForReady:
			err = types.CodeRoomInvalidState
		case r.started.Has(u.ID):
			err = types.CodeRoomAlreadyReady
		default:
			r.started.Insert(u.ID)
			r.broadcastMessage(protocol.RoomMessage{
				Kind: protocol.MessageReady, User: int32(u.ID), Name: u.Name,
			})
			post = append(post, h.checkAllReadyLocked(r)...)
		}
	}
	c.conn.Send(protocol.ReadyResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

func (h *Hub) handleCancelReady(c *Client) error {
	h.mu.Lock()
	u := c.user
	var r *Room
	var err error
	switch r, err = h.roomOf(u); {
	case err != nil:
	case r.State != RoomWaitForReady:
		err = types.CodeRoomInvalidState
	case r.HostID == u.ID:
		// The host cancelling aborts the whole countdown.
		r.State = RoomSelectChart
		r.started = nil
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageCancelGame, User: int32(u.ID), Name: u.Name,
		})
		r.broadcastState()
	case !r.started.Has(u.ID):
		err = types.CodeRoomNotReady
	default:
		r.started.Delete(u.ID)
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageCancelReady, User: int32(u.ID), Name: u.Name,
		})
	}
	c.conn.Send(protocol.CancelReadyResp{Err: errCode(err)})
	h.mu.Unlock()
	return err
}

// handlePlayed validates, fetches the uploaded record outside the lock,
// then re-validates before recording the result and checking settlement.
func (h *Hub) handlePlayed(c *Client, cmd protocol.Played) error {
	h.mu.Lock()
	u := c.user
	roomID, err := h.validatePlayLocked(u)
	h.mu.Unlock()
	if err != nil {
		c.conn.Send(protocol.PlayedResp{Err: errCode(err)})
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), identityCallTimeout)
	record, err := h.identity.Record(ctx, cmd.RecordID)
	cancel()
	if err == nil && record.Player != u.ID {
		err = types.CodeRecordInvalid
	}
	if err != nil {
		c.conn.Send(protocol.PlayedResp{Err: errCode(err)})
		return err
	}

	h.mu.Lock()
	var post []func()
	r := h.rooms[roomID]
	if r == nil || u.RoomID != roomID {
		err = types.CodeRoomNotFound
	} else if _, err = h.validatePlayLocked(u); err == nil {
		r.results[u.ID] = record
		r.resultOrder = append(r.resultOrder, u.ID)
		r.broadcastMessage(protocol.RoomMessage{
			Kind:      protocol.MessagePlayed,
			User:      int32(u.ID),
			Name:      u.Name,
			Score:     record.Score,
			Accuracy:  record.Accuracy,
			FullCombo: record.FullCombo,
		})
		uid := u.ID
		recID := record.ID
		post = append(post, func() { h.recorder.SetRecordID(roomID, uid, recID) })
		post = append(post, h.settleIfCompleteLocked(r)...)
	}
	c.conn.Send(protocol.PlayedResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

// validatePlayLocked checks that the user is a player in an active game
// with no result or abort on file.
func (h *Hub) validatePlayLocked(u *User) (types.RoomID, error) {
	r, err := h.roomOf(u)
	if err != nil {
		return "", err
	}
	if r.State != RoomPlaying || r.findUser(u.ID) == nil {
		return "", types.CodeRoomInvalidState
	}
	if _, uploaded := r.results[u.ID]; uploaded {
		return "", types.CodeRecordAlreadyUploaded
	}
	if r.aborted.Has(u.ID) {
		return "", types.CodeRoomGameAborted
	}
	return r.ID, nil
}

func (h *Hub) handleAbort(c *Client) error {
	h.mu.Lock()
	u := c.user
	var post []func()
	var r *Room
	var err error
	uploaded := false
	if r, err = h.roomOf(u); err == nil {
		_, uploaded = r.results[u.ID]
	}
	switch {
	case err != nil:
	case r.State != RoomPlaying || r.findUser(u.ID) == nil:
		err = types.CodeRoomInvalidState
	case r.aborted.Has(u.ID):
		err = types.CodeRoomGameAborted
	case uploaded:
		// A result is already on file; it cannot be retracted.
		err = types.CodeRoomInvalidState
	default:
		r.aborted.Insert(u.ID)
		r.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageAbort, User: int32(u.ID), Name: u.Name,
		})
		post = h.settleIfCompleteLocked(r)
	}
	c.conn.Send(protocol.AbortResp{Err: errCode(err)})
	h.mu.Unlock()
	runAll(post)
	return err
}

// handleTouches forwards live telemetry to monitors and feeds the replay
// recorder. Frames outside an active game are discarded without a reply.
func (h *Hub) handleTouches(c *Client, cmd protocol.Touches) {
	h.mu.Lock()
	u := c.user
	r := h.rooms[u.RoomID]
	if r == nil || r.State != RoomPlaying || r.findUser(u.ID) == nil {
		h.mu.Unlock()
		return
	}
	for _, f := range cmd.Frames {
		if f.Time > u.GameTime {
			u.GameTime = f.Time
		}
	}
	targets := h.monitorConnsLocked(r)
	roomID := r.ID
	uid := u.ID
	h.mu.Unlock()

	for _, t := range targets {
		t.Send(protocol.ForwardTouches{Frames: cmd.Frames})
	}
	h.recorder.Record(roomID, uid, protocol.EncodeClient(cmd))
}

// handleJudges mirrors handleTouches for judgement telemetry.
func (h *Hub) handleJudges(c *Client, cmd protocol.Judges) {
	h.mu.Lock()
	u := c.user
	r := h.rooms[u.RoomID]
	if r == nil || r.State != RoomPlaying || r.findUser(u.ID) == nil {
		h.mu.Unlock()
		return
	}
	targets := h.monitorConnsLocked(r)
	roomID := r.ID
	uid := u.ID
	h.mu.Unlock()

	for _, t := range targets {
		t.Send(protocol.ForwardJudges{Events: cmd.Events})
	}
	h.recorder.Record(roomID, uid, protocol.EncodeClient(cmd))
}

// monitorConnsLocked snapshots the connections telemetry should be
// forwarded to; empty when the room is not live.
func (h *Hub) monitorConnsLocked(r *Room) []connSender {
	if !r.Live {
		return nil
	}
	targets := make([]connSender, 0, len(r.Monitors))
	for _, m := range r.Monitors {
		if m.client != nil {
			targets = append(targets, m.client.conn)
		}
	}
	return targets
}

type connSender interface {
	Send(cmd protocol.ServerCommand)
}
