package protocol

// TouchPoint is one touch in a telemetry frame. Positions use the compact
// two-byte half-precision encoding on the wire.
type TouchPoint struct {
	ID int8
	X  float32
	Y  float32
}

// TouchFrame carries the touches observed at one instant of chart time.
type TouchFrame struct {
	Time   float32
	Points []TouchPoint
}

// JudgeEvent is one judgement emitted by the playing client.
type JudgeEvent struct {
	Time      float32
	Line      uint32
	Note      uint32
	Judgement uint8
}

// UserInfo is the wire projection of a player inside a room.
type UserInfo struct {
	ID      int32
	Name    string
	Monitor bool
}

// ClientStateKind enumerates the room phases as seen by a client.
type ClientStateKind byte

const (
	StateSelectChart ClientStateKind = iota
	StateWaitingForReady
	StatePlaying
)

// ClientState is the payload of ChangeState pushes and room snapshots.
// HasChart/ChartID are only meaningful in the SelectChart phase.
type ClientState struct {
	Kind     ClientStateKind
	HasChart bool
	ChartID  int32
}

// RoomSnapshot is the full room view delivered on join and on authenticate
// when the user is already in a room.
type RoomSnapshot struct {
	ID       string
	State    ClientState
	Live     bool
	Locked   bool
	Cycle    bool
	IsHost   bool
	IsReady  bool
	Users    []UserInfo
	Monitors []UserInfo
}

// MessageKind enumerates the room event messages pushed to every member.
type MessageKind byte

const (
	MessageChat MessageKind = iota
	MessageCreateRoom
	MessageJoinRoom
	MessageLeaveRoom
	MessageNewHost
	MessageSelectChart
	MessageGameStart
	MessageReady
	MessageCancelReady
	MessageCancelGame
	MessageStartPlaying
	MessagePlayed
	MessageGameEnd
	MessageAbort
	MessageLockRoom
	MessageCycleRoom
)

// RoomMessage is a structured room event. User 0 denotes the server itself
// (admin chat, settlement summaries). Only the fields relevant to Kind are
// encoded on the wire.
type RoomMessage struct {
	Kind      MessageKind
	User      int32
	Name      string
	Content   string  // MessageChat
	ChartID   int32   // MessageSelectChart
	Score     int32   // MessagePlayed
	Accuracy  float32 // MessagePlayed
	FullCombo bool    // MessagePlayed
	Lock      bool    // MessageLockRoom
	Cycle     bool    // MessageCycleRoom
}

// --- Client commands (client -> server) ---

// ClientCommand is the union of everything a client can send after the
// handshake.
type ClientCommand interface{ clientCommand() }

type Ping struct{}

// Authenticate carries the 32-character access token validated against the
// upstream identity service.
type Authenticate struct{ Token string }

type Chat struct{ Message string }

type Touches struct{ Frames []TouchFrame }

type Judges struct{ Events []JudgeEvent }

type CreateRoom struct{ RoomID string }

type JoinRoom struct {
	RoomID  string
	Monitor bool
}

type LeaveRoom struct{}

type LockRoom struct{ Lock bool }

type CycleRoom struct{ Cycle bool }

type SelectChart struct{ ChartID int32 }

type RequestStart struct{}

type Ready struct{}

type CancelReady struct{}

type Played struct{ RecordID int32 }

type Abort struct{}

func (Ping) clientCommand()         {}
func (Authenticate) clientCommand() {}
func (Chat) clientCommand()         {}
func (Touches) clientCommand()      {}
func (Judges) clientCommand()       {}
func (CreateRoom) clientCommand()   {}
func (JoinRoom) clientCommand()     {}
func (LeaveRoom) clientCommand()    {}
func (LockRoom) clientCommand()     {}
func (CycleRoom) clientCommand()    {}
func (SelectChart) clientCommand()  {}
func (RequestStart) clientCommand() {}
func (Ready) clientCommand()        {}
func (CancelReady) clientCommand()  {}
func (Played) clientCommand()       {}
func (Abort) clientCommand()        {}

// CommandName returns a stable label for metrics and logs.
func CommandName(cmd ClientCommand) string {
	switch cmd.(type) {
	case Ping:
		return "ping"
	case Authenticate:
		return "authenticate"
	case Chat:
		return "chat"
	case Touches:
		return "touches"
	case Judges:
		return "judges"
	case CreateRoom:
		return "create_room"
	case JoinRoom:
		return "join_room"
	case LeaveRoom:
		return "leave_room"
	case LockRoom:
		return "lock_room"
	case CycleRoom:
		return "cycle_room"
	case SelectChart:
		return "select_chart"
	case RequestStart:
		return "request_start"
	case Ready:
		return "ready"
	case CancelReady:
		return "cancel_ready"
	case Played:
		return "played"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// --- Server commands (server -> client) ---

// ServerCommand is the union of responses and pushes. Response variants
// carry Err: the stable error code for failures, empty on success.
type ServerCommand interface{ serverCommand() }

type Pong struct{}

// AuthenticateResp delivers the authenticated user's info and, when the
// user reconnected into an existing room, its snapshot.
type AuthenticateResp struct {
	Err  string
	Me   UserInfo
	Room *RoomSnapshot
}

type ChatResp struct{ Err string }

// ForwardTouches relays a player's touch frames to room monitors.
type ForwardTouches struct{ Frames []TouchFrame }

// ForwardJudges relays a player's judgement events to room monitors.
type ForwardJudges struct{ Events []JudgeEvent }

type Message struct{ Msg RoomMessage }

type ChangeState struct{ State ClientState }

type ChangeHost struct{ IsHost bool }

type CreateRoomResp struct{ Err string }

type JoinRoomResp struct {
	Err  string
	Room *RoomSnapshot
}

// OnJoinRoom notifies existing members that a user entered the room.
type OnJoinRoom struct{ User UserInfo }

type LeaveRoomResp struct{ Err string }

type LockRoomResp struct{ Err string }

type CycleRoomResp struct{ Err string }

type SelectChartResp struct{ Err string }

type RequestStartResp struct{ Err string }

type ReadyResp struct{ Err string }

type CancelReadyResp struct{ Err string }

type PlayedResp struct{ Err string }

type AbortResp struct{ Err string }

func (Pong) serverCommand()             {}
func (AuthenticateResp) serverCommand() {}
func (ChatResp) serverCommand()         {}
func (ForwardTouches) serverCommand()   {}
func (ForwardJudges) serverCommand()    {}
func (Message) serverCommand()          {}
func (ChangeState) serverCommand()      {}
func (ChangeHost) serverCommand()       {}
func (CreateRoomResp) serverCommand()   {}
func (JoinRoomResp) serverCommand()     {}
func (OnJoinRoom) serverCommand()       {}
func (LeaveRoomResp) serverCommand()    {}
func (LockRoomResp) serverCommand()     {}
func (CycleRoomResp) serverCommand()    {}
func (SelectChartResp) serverCommand()  {}
func (RequestStartResp) serverCommand() {}
func (ReadyResp) serverCommand()        {}
func (CancelReadyResp) serverCommand()  {}
func (PlayedResp) serverCommand()       {}
func (AbortResp) serverCommand()        {}
