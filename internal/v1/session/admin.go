package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tempolink/tempolink/internal/v1/config"
	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/transport"
	"github.com/tempolink/tempolink/internal/v1/types"
	"k8s.io/utils/set"
)

// Operator-facing operations. These are invoked from the admin HTTP
// surface; they take the same state mutex as the game handlers, so an
// operator action is atomic with respect to gameplay.

const maxAdminChatLen = 200

// RoomSummary is the list-view projection of a room.
type RoomSummary struct {
	ID       string       `json:"id"`
	State    string       `json:"state"`
	Host     types.UserID `json:"host"`
	Players  int          `json:"players"`
	Monitors int          `json:"monitors"`
	MaxUsers int          `json:"maxUsers"`
	Locked   bool         `json:"locked"`
	Cycle    bool         `json:"cycle"`
	Live     bool         `json:"live"`
	Contest  bool         `json:"contest"`
	Chart    *types.Chart `json:"chart,omitempty"`
}

// RoomMember describes one member in a room detail view.
type RoomMember struct {
	ID       types.UserID `json:"id"`
	Name     string       `json:"name"`
	Monitor  bool         `json:"monitor"`
	Online   bool         `json:"online"`
	Ready    bool         `json:"ready"`
	GameTime float32      `json:"gameTime"`
}

// RoomDetails is the full operator view of a room.
type RoomDetails struct {
	RoomSummary
	Members     []RoomMember   `json:"members"`
	Whitelist   []types.UserID `json:"whitelist,omitempty"`
	ManualStart bool           `json:"manualStart,omitempty"`
	AutoDisband bool           `json:"autoDisband,omitempty"`
}

// UserSummary is the list-view projection of a known user.
type UserSummary struct {
	ID      types.UserID `json:"id"`
	Name    string       `json:"name"`
	Room    string       `json:"room,omitempty"`
	Monitor bool         `json:"monitor"`
	Online  bool         `json:"online"`
}

// ContestSettings configures a room for an organised event.
type ContestSettings struct {
	Whitelist   []types.UserID `json:"whitelist"`
	ManualStart bool           `json:"manualStart"`
	AutoDisband bool           `json:"autoDisband"`
}

// ListRooms returns every public room. Rooms whose id starts with an
// underscore are operator-only and stay hidden.
func (h *Hub) ListRooms() []RoomSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]RoomSummary, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.ID.Private() {
			continue
		}
		out = append(out, summarize(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func summarize(r *Room) RoomSummary {
	return RoomSummary{
		ID:       string(r.ID),
		State:    r.State.String(),
		Host:     r.HostID,
		Players:  len(r.Users),
		Monitors: len(r.Monitors),
		MaxUsers: r.MaxUsers,
		Locked:   r.Locked,
		Cycle:    r.Cycle,
		Live:     r.Live,
		Contest:  r.Contest != nil,
		Chart:    r.Chart,
	}
}

// RoomDetails returns the full operator view of one room, private rooms
// included.
func (h *Hub) RoomDetails(id types.RoomID) (RoomDetails, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[id]
	if r == nil {
		return RoomDetails{}, types.CodeRoomNotFound
	}

	d := RoomDetails{RoomSummary: summarize(r)}
	for _, u := range r.members() {
		ready := r.started != nil && r.started.Has(u.ID)
		d.Members = append(d.Members, RoomMember{
			ID:       u.ID,
			Name:     u.Name,
			Monitor:  u.Monitor,
			Online:   u.Online(),
			Ready:    ready,
			GameTime: u.GameTime,
		})
	}
	if r.Contest != nil {
		d.Whitelist = r.Contest.Whitelist.SortedList()
		d.ManualStart = r.Contest.ManualStart
		d.AutoDisband = r.Contest.AutoDisband
	}
	return d, nil
}

// ListUsers returns every user known to the server, dangling ones
// included.
func (h *Hub) ListUsers() []UserSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]UserSummary, 0, len(h.users))
	for _, u := range h.users {
		out = append(out, UserSummary{
			ID:      u.ID,
			Name:    u.Name,
			Room:    string(u.RoomID),
			Monitor: u.Monitor,
			Online:  u.Online(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetRoomMaxUsers changes a room's player capacity. Shrinking below the
// current occupancy never evicts anyone; the limit only gates new joins.
func (h *Hub) SetRoomMaxUsers(id types.RoomID, maxUsers int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[id]
	if r == nil {
		return types.CodeRoomNotFound
	}
	r.MaxUsers = config.ClampRoomMaxUsers(maxUsers)
	return nil
}

// DisbandRoom evicts every member and deletes the room.
func (h *Hub) DisbandRoom(id types.RoomID) error {
	h.mu.Lock()
	r := h.rooms[id]
	var post []func()
	if r != nil {
		post = h.disbandLocked(r)
	}
	h.mu.Unlock()
	runAll(post)

	if r == nil {
		return types.CodeRoomNotFound
	}
	return nil
}

// SetContest marks a room as a contest room. An empty whitelist defaults
// to the current members; current members are always (re-)whitelisted so
// the configuration can never lock them out.
func (h *Hub) SetContest(id types.RoomID, s ContestSettings) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[id]
	if r == nil {
		return types.CodeRoomNotFound
	}

	wl := set.New[types.UserID](s.Whitelist...)
	for _, u := range r.members() {
		wl.Insert(u.ID)
	}
	r.Contest = &Contest{
		Whitelist:   wl,
		ManualStart: s.ManualStart,
		AutoDisband: s.AutoDisband,
	}
	return nil
}

// ClearContest reverts a contest room to normal flow.
func (h *Hub) ClearContest(id types.RoomID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[id]
	if r == nil {
		return types.CodeRoomNotFound
	}
	r.Contest = nil
	return nil
}

// UpdateContestWhitelist replaces the whitelist of an existing contest;
// current members always stay whitelisted.
func (h *Hub) UpdateContestWhitelist(id types.RoomID, ids []types.UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[id]
	if r == nil {
		return types.CodeRoomNotFound
	}
	if r.Contest == nil {
		return types.CodeRoomInvalidState
	}

	wl := set.New[types.UserID](ids...)
	for _, u := range r.members() {
		wl.Insert(u.ID)
	}
	r.Contest.Whitelist = wl
	return nil
}

// StartContest starts a manual-start game. Without force every member
// must already be ready; with force the stragglers are started anyway.
func (h *Hub) StartContest(id types.RoomID, force bool) error {
	h.mu.Lock()
	r := h.rooms[id]
	var post []func()
	var err error
	switch {
	case r == nil:
		err = types.CodeRoomNotFound
	case r.State != RoomWaitForReady:
		err = types.CodeRoomInvalidState
	case r.Chart == nil:
		err = types.CodeStartNoChartSelected
	case !force && !r.allReady():
		err = types.CodeRoomNotReady
	default:
		post = h.startPlayingLocked(r)
	}
	h.mu.Unlock()
	runAll(post)
	return err
}

// BroadcastChat sends operator text to one room, or to every room when
// id is empty.
func (h *Hub) BroadcastChat(id types.RoomID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxAdminChatLen {
		return fmt.Errorf("message must be 1-%d characters", maxAdminChatLen)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if id != "" {
		r := h.rooms[id]
		if r == nil {
			return types.CodeRoomNotFound
		}
		r.broadcast(systemChat(text))
		return nil
	}
	for _, r := range h.rooms {
		r.broadcast(systemChat(text))
	}
	return nil
}

// BanUser blocks a user from room operations server-wide; with disconnect
// the current session is also closed.
func (h *Hub) BanUser(id types.UserID, disconnect bool) {
	h.mu.Lock()
	h.bannedUsers.Insert(id)
	var conn *transport.Conn
	if u := h.users[id]; u != nil && u.client != nil && disconnect {
		conn = u.client.conn
	}
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// UnbanUser lifts a server-wide ban.
func (h *Hub) UnbanUser(id types.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bannedUsers.Delete(id)
}

// BanFromRoom blocks a user from joining one specific room.
func (h *Hub) BanFromRoom(roomID types.RoomID, userID types.UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		return types.CodeRoomNotFound
	}
	banned := h.bannedRoomUsers[roomID]
	if banned == nil {
		banned = set.New[types.UserID]()
		h.bannedRoomUsers[roomID] = banned
	}
	banned.Insert(userID)
	return nil
}

// UnbanFromRoom lifts a per-room ban.
func (h *Hub) UnbanFromRoom(roomID types.RoomID, userID types.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if banned := h.bannedRoomUsers[roomID]; banned != nil {
		banned.Delete(userID)
	}
}

// Disconnect closes a user's session. With preserveRoom the user's room
// membership survives the disconnect indefinitely, allowing a later
// reconnect (or a MoveUser) without the dangle window expiring it.
func (h *Hub) Disconnect(id types.UserID, preserveRoom bool) error {
	h.mu.Lock()
	u := h.users[id]
	if u == nil {
		h.mu.Unlock()
		return types.CodeUserNotFound
	}
	var conn *transport.Conn
	if u.client != nil {
		u.client.preserveRoomOnLoss = preserveRoom
		conn = u.client.conn
	}
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// MoveUser transfers a disconnected user between rooms. Both rooms must
// be in chart selection, and the target room's join rules still apply.
func (h *Hub) MoveUser(id types.UserID, target types.RoomID, monitor bool) error {
	h.mu.Lock()
	var post []func()
	err := func() error {
		u := h.users[id]
		if u == nil {
			return types.CodeUserNotFound
		}
		if u.client != nil {
			return types.CodeUserStillConnected
		}
		if u.RoomID == target {
			return types.CodeRoomAlreadyInRoom
		}

		to := h.rooms[target]
		if to == nil {
			return types.CodeRoomNotFound
		}
		if to.State != RoomSelectChart {
			return types.CodeRoomInvalidState
		}

		from := h.rooms[u.RoomID]
		if from != nil && from.isMember(u.ID) && from.State != RoomSelectChart {
			return types.CodeRoomInvalidState
		}

		if err := h.validateJoinLocked(to, u, monitor); err != nil {
			return err
		}
		if !monitor && len(to.Users) >= to.MaxUsers {
			return types.CodeJoinRoomFull
		}

		if from != nil && from.isMember(u.ID) {
			post = h.leaveRoomLocked(u, from)
		}
		to.addUser(u, monitor)
		u.RoomID = target
		u.Monitor = monitor
		if to.Contest != nil {
			to.Contest.Whitelist.Insert(u.ID)
		}
		to.broadcastExcept(u.ID, protocol.OnJoinRoom{User: u.WireInfo()})
		to.broadcastMessage(protocol.RoomMessage{
			Kind: protocol.MessageJoinRoom, User: int32(u.ID), Name: u.Name,
		})
		h.emit("user_joined", map[string]any{
			"roomId": string(target), "userId": int32(u.ID), "monitor": monitor,
		})
		return nil
	}()
	h.mu.Unlock()
	runAll(post)
	return err
}

// SetReplayEnabled flips the server-wide replay toggle. Rooms capture the
// toggle at creation, so existing rooms are unaffected.
func (h *Hub) SetReplayEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replayEnabled = enabled
}

// SetRoomCreationEnabled flips whether players may create new rooms.
func (h *Hub) SetRoomCreationEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomCreationEnabled = enabled
}

// Settings is the current state of the server-wide toggles.
type Settings struct {
	ReplayEnabled       bool `json:"replayEnabled"`
	RoomCreationEnabled bool `json:"roomCreationEnabled"`
}

// CurrentSettings returns the server-wide toggles.
func (h *Hub) CurrentSettings() Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Settings{
		ReplayEnabled:       h.replayEnabled,
		RoomCreationEnabled: h.roomCreationEnabled,
	}
}

// Stats is a coarse occupancy snapshot for health and dashboards.
type Stats struct {
	Sessions int `json:"sessions"`
	Users    int `json:"users"`
	Rooms    int `json:"rooms"`
}

// CurrentStats returns the occupancy snapshot.
func (h *Hub) CurrentStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Sessions: len(h.sessions),
		Users:    len(h.users),
		Rooms:    len(h.rooms),
	}
}
