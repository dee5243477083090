package types

// Code is a stable wire error code. Clients localise these keys; the server
// never attaches human-readable text to them. A Code is both the error
// returned by command handlers and the string carried in the matching
// response variant.
type Code string

func (c Code) Error() string { return string(c) }

// Validation errors: the request was understood and rejected.
const (
	CodeCreateIDOccupied      Code = "create-id-occupied"
	CodeCreateInvalidID       Code = "create-invalid-id"
	CodeCreateDisabled        Code = "create-room-disabled"
	CodeJoinRoomFull          Code = "join-room-full"
	CodeJoinRoomLocked        Code = "join-room-locked"
	CodeJoinGameOngoing       Code = "join-game-ongoing"
	CodeJoinCantMonitor       Code = "join-cant-monitor"
	CodeRoomAlreadyInRoom     Code = "room-already-in-room"
	CodeRoomNotFound          Code = "room-not-found"
	CodeRoomBanned            Code = "room-banned"
	CodeRoomNotWhitelisted    Code = "room-not-whitelisted"
	CodeRoomOnlyHost          Code = "room-only-host"
	CodeRoomInvalidState      Code = "room-invalid-state"
	CodeRoomAlreadyReady      Code = "room-already-ready"
	CodeRoomNotReady          Code = "room-not-ready"
	CodeRoomGameAborted       Code = "room-game-aborted"
	CodeStartNoChartSelected  Code = "start-no-chart-selected"
	CodeRecordInvalid         Code = "record-invalid"
	CodeRecordAlreadyUploaded Code = "record-already-uploaded"
)

// External errors: an upstream call failed.
const (
	CodeAuthFetchMeFailed  Code = "auth-fetch-me-failed"
	CodeAuthInvalidToken   Code = "auth-invalid-token"
	CodeChartFetchFailed   Code = "chart-fetch-failed"
	CodeRecordFetchFailed  Code = "record-fetch-failed"
	CodeNetRequestTimeout  Code = "net-request-timeout"
)

// Auth errors.
const (
	CodeAuthAccountAlreadyOnline Code = "auth-account-already-online"
	CodeAuthRepeatedAuthenticate Code = "auth-repeated-authenticate"
	CodeAuthBanned               Code = "auth-banned"
	CodeUserBannedByServer       Code = "user-banned-by-server"
	CodeUserNotFound             Code = "user-not-found"
	CodeUserStillConnected       Code = "user-still-connected"
)
