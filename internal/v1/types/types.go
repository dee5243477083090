// Package types holds the identifiers, wire error codes, and upstream data
// shapes shared between the session engine, the identity client, and the
// admin surface. Keeping them here avoids import cycles between those
// packages.
package types

import "regexp"

// UserID is the stable integer identity assigned by the upstream identity
// service.
type UserID int32

// RoomID identifies a room. Valid ids are 1-20 characters drawn from
// [A-Za-z0-9_-]. Ids starting with '_' are private and hidden from public
// listings.
type RoomID string

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,20}$`)

// Valid reports whether the id satisfies the room id grammar.
func (id RoomID) Valid() bool {
	return roomIDPattern.MatchString(string(id))
}

// Private reports whether the room is excluded from public listings.
func (id RoomID) Private() bool {
	return len(id) > 0 && id[0] == '_'
}

// UserInfo is the identity service's projection of a player, returned by
// GET /me.
type UserInfo struct {
	ID       UserID `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Chart is a playable song/level referenced by numeric id.
type Chart struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// Record is the authoritative post-play result fetched from the identity
// service. The core never judges charts itself; it trusts this record.
type Record struct {
	ID        int32   `json:"id"`
	Player    UserID  `json:"player"`
	Score     int32   `json:"score"`
	Perfect   int32   `json:"perfect"`
	Good      int32   `json:"good"`
	Bad       int32   `json:"bad"`
	Miss      int32   `json:"miss"`
	MaxCombo  int32   `json:"maxCombo"`
	Accuracy  float32 `json:"accuracy"`
	FullCombo bool    `json:"fullCombo"`
	Std       float32 `json:"std"`
	StdScore  float32 `json:"stdScore"`
}
