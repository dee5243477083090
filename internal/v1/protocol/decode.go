package protocol

import "fmt"

// DecodeClient decodes a frame payload into a client command. Any error
// closes the connection.
func DecodeClient(payload []byte) (ClientCommand, error) {
	if len(payload) == 0 {
		return nil, ErrInvalidLength
	}
	r := &reader{buf: payload}
	tag := r.byte()

	var cmd ClientCommand
	switch tag {
	case tagClientPing:
		cmd = Ping{}
	case tagClientAuthenticate:
		cmd = Authenticate{Token: r.str()}
	case tagClientChat:
		cmd = Chat{Message: r.str()}
	case tagClientTouches:
		cmd = Touches{Frames: decodeTouchFrames(r)}
	case tagClientJudges:
		cmd = Judges{Events: decodeJudgeEvents(r)}
	case tagClientCreateRoom:
		cmd = CreateRoom{RoomID: r.str()}
	case tagClientJoinRoom:
		cmd = JoinRoom{RoomID: r.str(), Monitor: r.bool()}
	case tagClientLeaveRoom:
		cmd = LeaveRoom{}
	case tagClientLockRoom:
		cmd = LockRoom{Lock: r.bool()}
	case tagClientCycleRoom:
		cmd = CycleRoom{Cycle: r.bool()}
	case tagClientSelectChart:
		cmd = SelectChart{ChartID: r.i32()}
	case tagClientRequestStart:
		cmd = RequestStart{}
	case tagClientReady:
		cmd = Ready{}
	case tagClientCancelReady:
		cmd = CancelReady{}
	case tagClientPlayed:
		cmd = Played{RecordID: r.i32()}
	case tagClientAbort:
		cmd = Abort{}
	default:
		return nil, fmt.Errorf("unknown client command tag %d", tag)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// DecodeServer decodes a frame payload into a server command. Used by test
// harnesses and tooling acting as a client.
func DecodeServer(payload []byte) (ServerCommand, error) {
	if len(payload) == 0 {
		return nil, ErrInvalidLength
	}
	r := &reader{buf: payload}
	tag := r.byte()

	var cmd ServerCommand
	switch tag {
	case tagServerPong:
		cmd = Pong{}
	case tagServerAuthenticate:
		resp := AuthenticateResp{}
		if readResult(r, &resp.Err) {
			resp.Me = decodeUserInfo(r)
			resp.Room = decodeRoomOption(r)
		}
		cmd = resp
	case tagServerChat:
		resp := ChatResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerTouches:
		cmd = ForwardTouches{Frames: decodeTouchFrames(r)}
	case tagServerJudges:
		cmd = ForwardJudges{Events: decodeJudgeEvents(r)}
	case tagServerMessage:
		cmd = Message{Msg: decodeRoomMessage(r)}
	case tagServerChangeState:
		cmd = ChangeState{State: decodeClientState(r)}
	case tagServerChangeHost:
		cmd = ChangeHost{IsHost: r.bool()}
	case tagServerCreateRoom:
		resp := CreateRoomResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerJoinRoom:
		resp := JoinRoomResp{}
		if readResult(r, &resp.Err) {
			room := decodeRoomSnapshot(r)
			resp.Room = &room
		}
		cmd = resp
	case tagServerOnJoinRoom:
		cmd = OnJoinRoom{User: decodeUserInfo(r)}
	case tagServerLeaveRoom:
		resp := LeaveRoomResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerLockRoom:
		resp := LockRoomResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerCycleRoom:
		resp := CycleRoomResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerSelectChart:
		resp := SelectChartResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerRequestStart:
		resp := RequestStartResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerReady:
		resp := ReadyResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerCancelReady:
		resp := CancelReadyResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerPlayed:
		resp := PlayedResp{}
		readResult(r, &resp.Err)
		cmd = resp
	case tagServerAbort:
		resp := AbortResp{}
		readResult(r, &resp.Err)
		cmd = resp
	default:
		return nil, fmt.Errorf("unknown server command tag %d", tag)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// readResult reads the ok/err discriminant. Returns true when the success
// body follows; on err the code is stored into errCode.
func readResult(r *reader, errCode *string) bool {
	if r.bool() {
		return true
	}
	*errCode = r.str()
	return false
}

func decodeTouchFrames(r *reader) []TouchFrame {
	n := r.vecLen()
	if n == 0 {
		return nil
	}
	frames := make([]TouchFrame, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		f := TouchFrame{Time: r.f32()}
		pn := r.vecLen()
		for j := 0; j < pn && r.Err() == nil; j++ {
			f.Points = append(f.Points, TouchPoint{
				ID: int8(r.byte()),
				X:  r.f16(),
				Y:  r.f16(),
			})
		}
		frames = append(frames, f)
	}
	return frames
}

func decodeJudgeEvents(r *reader) []JudgeEvent {
	n := r.vecLen()
	if n == 0 {
		return nil
	}
	events := make([]JudgeEvent, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		events = append(events, JudgeEvent{
			Time:      r.f32(),
			Line:      r.u32(),
			Note:      r.u32(),
			Judgement: r.byte(),
		})
	}
	return events
}

func decodeUserInfo(r *reader) UserInfo {
	return UserInfo{ID: r.i32(), Name: r.str(), Monitor: r.bool()}
}

func decodeClientState(r *reader) ClientState {
	s := ClientState{Kind: ClientStateKind(r.byte())}
	if s.Kind == StateSelectChart {
		s.HasChart = r.bool()
		if s.HasChart {
			s.ChartID = r.i32()
		}
	}
	return s
}

func decodeRoomOption(r *reader) *RoomSnapshot {
	if !r.bool() {
		return nil
	}
	room := decodeRoomSnapshot(r)
	return &room
}

func decodeRoomSnapshot(r *reader) RoomSnapshot {
	room := RoomSnapshot{
		ID:      r.str(),
		State:   decodeClientState(r),
		Live:    r.bool(),
		Locked:  r.bool(),
		Cycle:   r.bool(),
		IsHost:  r.bool(),
		IsReady: r.bool(),
	}
	n := r.vecLen()
	for i := 0; i < n && r.Err() == nil; i++ {
		room.Users = append(room.Users, decodeUserInfo(r))
	}
	n = r.vecLen()
	for i := 0; i < n && r.Err() == nil; i++ {
		room.Monitors = append(room.Monitors, decodeUserInfo(r))
	}
	return room
}

func decodeRoomMessage(r *reader) RoomMessage {
	m := RoomMessage{Kind: MessageKind(r.byte())}
	switch m.Kind {
	case MessageChat:
		m.User = r.i32()
		m.Name = r.str()
		m.Content = r.str()
	case MessageSelectChart:
		m.User = r.i32()
		m.Name = r.str()
		m.ChartID = r.i32()
	case MessagePlayed:
		m.User = r.i32()
		m.Name = r.str()
		m.Score = r.i32()
		m.Accuracy = r.f32()
		m.FullCombo = r.bool()
	case MessageLockRoom:
		m.Lock = r.bool()
	case MessageCycleRoom:
		m.Cycle = r.bool()
	case MessageStartPlaying, MessageGameEnd:
		// no body
	default:
		m.User = r.i32()
		m.Name = r.str()
	}
	return m
}
