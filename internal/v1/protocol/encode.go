package protocol

// Wire tags. Decode once at the edge; nothing outside this package switches
// on these values.
const (
	tagClientPing byte = iota
	tagClientAuthenticate
	tagClientChat
	tagClientTouches
	tagClientJudges
	tagClientCreateRoom
	tagClientJoinRoom
	tagClientLeaveRoom
	tagClientLockRoom
	tagClientCycleRoom
	tagClientSelectChart
	tagClientRequestStart
	tagClientReady
	tagClientCancelReady
	tagClientPlayed
	tagClientAbort
)

const (
	tagServerPong byte = iota
	tagServerAuthenticate
	tagServerChat
	tagServerTouches
	tagServerJudges
	tagServerMessage
	tagServerChangeState
	tagServerChangeHost
	tagServerCreateRoom
	tagServerJoinRoom
	tagServerOnJoinRoom
	tagServerLeaveRoom
	tagServerLockRoom
	tagServerCycleRoom
	tagServerSelectChart
	tagServerRequestStart
	tagServerReady
	tagServerCancelReady
	tagServerPlayed
	tagServerAbort
)

// EncodeClient encodes a client command into a frame payload.
func EncodeClient(cmd ClientCommand) []byte {
	w := &writer{}
	switch c := cmd.(type) {
	case Ping:
		w.byte(tagClientPing)
	case Authenticate:
		w.byte(tagClientAuthenticate)
		w.str(c.Token)
	case Chat:
		w.byte(tagClientChat)
		w.str(c.Message)
	case Touches:
		w.byte(tagClientTouches)
		encodeTouchFrames(w, c.Frames)
	case Judges:
		w.byte(tagClientJudges)
		encodeJudgeEvents(w, c.Events)
	case CreateRoom:
		w.byte(tagClientCreateRoom)
		w.str(c.RoomID)
	case JoinRoom:
		w.byte(tagClientJoinRoom)
		w.str(c.RoomID)
		w.bool(c.Monitor)
	case LeaveRoom:
		w.byte(tagClientLeaveRoom)
	case LockRoom:
		w.byte(tagClientLockRoom)
		w.bool(c.Lock)
	case CycleRoom:
		w.byte(tagClientCycleRoom)
		w.bool(c.Cycle)
	case SelectChart:
		w.byte(tagClientSelectChart)
		w.i32(c.ChartID)
	case RequestStart:
		w.byte(tagClientRequestStart)
	case Ready:
		w.byte(tagClientReady)
	case CancelReady:
		w.byte(tagClientCancelReady)
	case Played:
		w.byte(tagClientPlayed)
		w.i32(c.RecordID)
	case Abort:
		w.byte(tagClientAbort)
	}
	return w.buf
}

// EncodeServer encodes a server command into a frame payload.
func EncodeServer(cmd ServerCommand) []byte {
	w := &writer{}
	switch c := cmd.(type) {
	case Pong:
		w.byte(tagServerPong)
	case AuthenticateResp:
		w.byte(tagServerAuthenticate)
		if writeResult(w, c.Err) {
			encodeUserInfo(w, c.Me)
			encodeRoomOption(w, c.Room)
		}
	case ChatResp:
		w.byte(tagServerChat)
		writeResult(w, c.Err)
	case ForwardTouches:
		w.byte(tagServerTouches)
		encodeTouchFrames(w, c.Frames)
	case ForwardJudges:
		w.byte(tagServerJudges)
		encodeJudgeEvents(w, c.Events)
	case Message:
		w.byte(tagServerMessage)
		encodeRoomMessage(w, c.Msg)
	case ChangeState:
		w.byte(tagServerChangeState)
		encodeClientState(w, c.State)
	case ChangeHost:
		w.byte(tagServerChangeHost)
		w.bool(c.IsHost)
	case CreateRoomResp:
		w.byte(tagServerCreateRoom)
		writeResult(w, c.Err)
	case JoinRoomResp:
		w.byte(tagServerJoinRoom)
		if writeResult(w, c.Err) {
			encodeRoomSnapshot(w, c.Room)
		}
	case OnJoinRoom:
		w.byte(tagServerOnJoinRoom)
		encodeUserInfo(w, c.User)
	case LeaveRoomResp:
		w.byte(tagServerLeaveRoom)
		writeResult(w, c.Err)
	case LockRoomResp:
		w.byte(tagServerLockRoom)
		writeResult(w, c.Err)
	case CycleRoomResp:
		w.byte(tagServerCycleRoom)
		writeResult(w, c.Err)
	case SelectChartResp:
		w.byte(tagServerSelectChart)
		writeResult(w, c.Err)
	case RequestStartResp:
		w.byte(tagServerRequestStart)
		writeResult(w, c.Err)
	case ReadyResp:
		w.byte(tagServerReady)
		writeResult(w, c.Err)
	case CancelReadyResp:
		w.byte(tagServerCancelReady)
		writeResult(w, c.Err)
	case PlayedResp:
		w.byte(tagServerPlayed)
		writeResult(w, c.Err)
	case AbortResp:
		w.byte(tagServerAbort)
		writeResult(w, c.Err)
	}
	return w.buf
}

// writeResult writes the ok/err discriminant and, for errors, the code.
// Returns true when the caller should append the success body.
func writeResult(w *writer, errCode string) bool {
	if errCode == "" {
		w.byte(1)
		return true
	}
	w.byte(0)
	w.str(errCode)
	return false
}

func encodeTouchFrames(w *writer, frames []TouchFrame) {
	w.varint(len(frames))
	for _, f := range frames {
		w.f32(f.Time)
		w.varint(len(f.Points))
		for _, p := range f.Points {
			w.byte(byte(p.ID))
			w.f16(p.X)
			w.f16(p.Y)
		}
	}
}

func encodeJudgeEvents(w *writer, events []JudgeEvent) {
	w.varint(len(events))
	for _, e := range events {
		w.f32(e.Time)
		w.u32(e.Line)
		w.u32(e.Note)
		w.byte(e.Judgement)
	}
}

func encodeUserInfo(w *writer, u UserInfo) {
	w.i32(u.ID)
	w.str(u.Name)
	w.bool(u.Monitor)
}

func encodeClientState(w *writer, s ClientState) {
	w.byte(byte(s.Kind))
	if s.Kind == StateSelectChart {
		w.bool(s.HasChart)
		if s.HasChart {
			w.i32(s.ChartID)
		}
	}
}

func encodeRoomOption(w *writer, room *RoomSnapshot) {
	if room == nil {
		w.byte(0)
		return
	}
	w.byte(1)
	encodeRoomSnapshot(w, room)
}

func encodeRoomSnapshot(w *writer, room *RoomSnapshot) {
	w.str(room.ID)
	encodeClientState(w, room.State)
	w.bool(room.Live)
	w.bool(room.Locked)
	w.bool(room.Cycle)
	w.bool(room.IsHost)
	w.bool(room.IsReady)
	w.varint(len(room.Users))
	for _, u := range room.Users {
		encodeUserInfo(w, u)
	}
	w.varint(len(room.Monitors))
	for _, u := range room.Monitors {
		encodeUserInfo(w, u)
	}
}

func encodeRoomMessage(w *writer, m RoomMessage) {
	w.byte(byte(m.Kind))
	switch m.Kind {
	case MessageChat:
		w.i32(m.User)
		w.str(m.Name)
		w.str(m.Content)
	case MessageSelectChart:
		w.i32(m.User)
		w.str(m.Name)
		w.i32(m.ChartID)
	case MessagePlayed:
		w.i32(m.User)
		w.str(m.Name)
		w.i32(m.Score)
		w.f32(m.Accuracy)
		w.bool(m.FullCombo)
	case MessageLockRoom:
		w.bool(m.Lock)
	case MessageCycleRoom:
		w.bool(m.Cycle)
	case MessageStartPlaying, MessageGameEnd:
		// no body
	default:
		// CreateRoom, JoinRoom, LeaveRoom, NewHost, GameStart, Ready,
		// CancelReady, CancelGame, Abort: actor only.
		w.i32(m.User)
		w.str(m.Name)
	}
}
