package session

import (
	"math"

	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/types"
)

// User is a player known to the server. A User outlives its connection: on
// session loss it dangles for a grace window so the player can reconnect
// into the same room. All fields are guarded by the hub's state mutex.
type User struct {
	ID       types.UserID
	Name     string
	Language string

	// Monitor marks the user as a spectator in its current room.
	Monitor bool

	// RoomID is empty when the user is not in a room. The Room itself is
	// always looked up through the hub registry, never referenced directly.
	RoomID types.RoomID

	// client is the current connection, nil while dangling.
	client *Client

	// GameTime tracks the latest touch-frame time, reset to -Inf at game
	// start.
	GameTime float32

	// dangleToken is bumped whenever a session attaches, invalidating any
	// delayed cleanup scheduled for an older disconnect.
	dangleToken uint64
}

func newUser(info types.UserInfo) *User {
	return &User{
		ID:       info.ID,
		Name:     info.Name,
		Language: info.Language,
		GameTime: float32(math.Inf(-1)),
	}
}

// WireInfo is the user's public projection for the wire protocol.
func (u *User) WireInfo() protocol.UserInfo {
	return protocol.UserInfo{ID: int32(u.ID), Name: u.Name, Monitor: u.Monitor}
}

// TrySend delegates to the current session; a dangling user drops the
// command.
func (u *User) TrySend(cmd protocol.ServerCommand) {
	if u.client != nil {
		u.client.conn.Send(cmd)
	}
}

// Online reports whether the user currently has a session.
func (u *User) Online() bool { return u.client != nil }

// attach binds a new session, superseding any pending dangle cleanup.
func (u *User) attach(c *Client) {
	u.client = c
	u.dangleToken++
}

// markDangle detaches nothing itself; it mints the token a delayed cleanup
// must present to still be valid when it fires.
func (u *User) markDangle() uint64 {
	u.dangleToken++
	return u.dangleToken
}

// isStillDangling reports whether no session attached since markDangle.
func (u *User) isStillDangling(token uint64) bool {
	return u.client == nil && u.dangleToken == token
}
