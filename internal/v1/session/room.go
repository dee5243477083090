package session

import (
	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/types"
	"k8s.io/utils/set"
)

// RoomState is the room's lifecycle phase.
type RoomState int

const (
	// RoomSelectChart is the lobby phase: the host picks a chart, members
	// come and go.
	RoomSelectChart RoomState = iota
	// RoomWaitForReady gathers ready confirmations before play begins.
	RoomWaitForReady
	// RoomPlaying is the in-game phase.
	RoomPlaying
)

func (s RoomState) String() string {
	switch s {
	case RoomSelectChart:
		return "select-chart"
	case RoomWaitForReady:
		return "wait-for-ready"
	case RoomPlaying:
		return "playing"
	}
	return "unknown"
}

// Contest overrides normal room flow for organised events: only
// whitelisted players may join, the game starts on an operator command
// rather than on all-ready, and the room can disband itself after
// settlement.
type Contest struct {
	Whitelist   set.Set[types.UserID]
	ManualStart bool
	AutoDisband bool
}

// Room is a multiplayer room. Every field is guarded by the hub's state
// mutex; rooms never reference each other and users are held as direct
// pointers while membership lasts.
type Room struct {
	ID       types.RoomID
	MaxUsers int
	HostID   types.UserID

	// ReplayEligible is fixed at creation from the server-wide replay
	// toggle; flipping the toggle later never affects existing rooms.
	ReplayEligible bool
	// Live enables touch/judge forwarding to monitors.
	Live   bool
	Locked bool
	Cycle  bool

	State RoomState

	// started collects ready confirmations during WaitForReady. The host
	// is pre-inserted when the phase begins.
	started set.Set[types.UserID]

	// results and aborted cover the Playing phase; resultOrder preserves
	// upload order so settlement ties break deterministically.
	results     map[types.UserID]types.Record
	resultOrder []types.UserID
	aborted     set.Set[types.UserID]

	Users    []*User
	Monitors []*User
	Chart    *types.Chart
	Contest  *Contest
}

func newRoom(id types.RoomID, host *User, maxUsers int, replayEligible bool) *Room {
	return &Room{
		ID:             id,
		MaxUsers:       maxUsers,
		HostID:         host.ID,
		ReplayEligible: replayEligible,
		Live:           replayEligible,
		State:          RoomSelectChart,
		Users:          []*User{host},
	}
}

// members returns players and monitors, players first.
func (r *Room) members() []*User {
	out := make([]*User, 0, len(r.Users)+len(r.Monitors))
	out = append(out, r.Users...)
	out = append(out, r.Monitors...)
	return out
}

func (r *Room) isMember(id types.UserID) bool {
	return r.findUser(id) != nil || r.findMonitor(id) != nil
}

func (r *Room) findUser(id types.UserID) *User {
	for _, u := range r.Users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (r *Room) findMonitor(id types.UserID) *User {
	for _, u := range r.Monitors {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// addUser places a joining user; the caller has already validated the
// join. Reports false when the player slots are full.
func (r *Room) addUser(u *User, monitor bool) bool {
	if monitor {
		r.Monitors = append(r.Monitors, u)
		return true
	}
	if len(r.Users) >= r.MaxUsers {
		return false
	}
	r.Users = append(r.Users, u)
	return true
}

// removeUser drops the user from membership and from all phase-tracking
// state. Results must never outlive membership: settlement only ranks
// players still in the room.
func (r *Room) removeUser(id types.UserID) {
	r.Users = removeByID(r.Users, id)
	r.Monitors = removeByID(r.Monitors, id)
	if r.started != nil {
		r.started.Delete(id)
	}
	if r.aborted != nil {
		r.aborted.Delete(id)
	}
	if _, ok := r.results[id]; ok {
		delete(r.results, id)
		for i, rid := range r.resultOrder {
			if rid == id {
				r.resultOrder = append(r.resultOrder[:i], r.resultOrder[i+1:]...)
				break
			}
		}
	}
}

func removeByID(users []*User, id types.UserID) []*User {
	for i, u := range users {
		if u.ID == id {
			return append(users[:i], users[i+1:]...)
		}
	}
	return users
}

// allReady reports whether every player and monitor has confirmed.
func (r *Room) allReady() bool {
	if r.started == nil {
		return false
	}
	for _, u := range r.members() {
		if !r.started.Has(u.ID) {
			return false
		}
	}
	return true
}

// playersCovered reports whether every current player has either uploaded
// a result or aborted.
func (r *Room) playersCovered() bool {
	for _, u := range r.Users {
		if _, ok := r.results[u.ID]; ok {
			continue
		}
		if r.aborted != nil && r.aborted.Has(u.ID) {
			continue
		}
		return false
	}
	return true
}

// clientState is the wire projection of the room phase.
func (r *Room) clientState() protocol.ClientState {
	switch r.State {
	case RoomWaitForReady:
		return protocol.ClientState{Kind: protocol.StateWaitingForReady}
	case RoomPlaying:
		return protocol.ClientState{Kind: protocol.StatePlaying}
	default:
		st := protocol.ClientState{Kind: protocol.StateSelectChart}
		if r.Chart != nil {
			st.HasChart = true
			st.ChartID = r.Chart.ID
		}
		return st
	}
}

// snapshotFor builds the full room view delivered to one member.
func (r *Room) snapshotFor(u *User) *protocol.RoomSnapshot {
	snap := &protocol.RoomSnapshot{
		ID:     string(r.ID),
		State:  r.clientState(),
		Live:   r.Live,
		Locked: r.Locked,
		Cycle:  r.Cycle,
		IsHost: r.HostID == u.ID,
	}
	if r.started != nil {
		snap.IsReady = r.started.Has(u.ID)
	}
	for _, m := range r.Users {
		snap.Users = append(snap.Users, m.WireInfo())
	}
	for _, m := range r.Monitors {
		snap.Monitors = append(snap.Monitors, m.WireInfo())
	}
	return snap
}

// broadcast enqueues a command to every member.
func (r *Room) broadcast(cmd protocol.ServerCommand) {
	for _, u := range r.members() {
		u.TrySend(cmd)
	}
}

// broadcastExcept enqueues a command to every member but one.
func (r *Room) broadcastExcept(except types.UserID, cmd protocol.ServerCommand) {
	for _, u := range r.members() {
		if u.ID != except {
			u.TrySend(cmd)
		}
	}
}

// broadcastMessage wraps a room message for every member.
func (r *Room) broadcastMessage(msg protocol.RoomMessage) {
	r.broadcast(protocol.Message{Msg: msg})
}

// broadcastState pushes the current phase to every member.
func (r *Room) broadcastState() {
	r.broadcast(protocol.ChangeState{State: r.clientState()})
}
