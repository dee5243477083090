package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCommands_RoundTrip(t *testing.T) {
	frames := []TouchFrame{
		{Time: 1.5, Points: []TouchPoint{{ID: 0, X: 0.5, Y: -0.25}, {ID: 1, X: 0, Y: 1}}},
		{Time: 2.5, Points: nil},
	}
	events := []JudgeEvent{
		{Time: 3.25, Line: 2, Note: 17, Judgement: 1},
		{Time: 4.0, Line: 0, Note: 3, Judgement: 4},
	}

	cases := []ClientCommand{
		Ping{},
		Authenticate{Token: "abcdefghijklmnopqrstuvwxyz012345"},
		Chat{Message: "hello"},
		Touches{Frames: frames},
		Judges{Events: events},
		CreateRoom{RoomID: "my-room_1"},
		JoinRoom{RoomID: "my-room_1", Monitor: true},
		LeaveRoom{},
		LockRoom{Lock: true},
		CycleRoom{Cycle: false},
		SelectChart{ChartID: 42},
		RequestStart{},
		Ready{},
		CancelReady{},
		Played{RecordID: 1234},
		Abort{},
	}

	for _, cmd := range cases {
		t.Run(CommandName(cmd), func(t *testing.T) {
			payload := EncodeClient(cmd)
			require.NotEmpty(t, payload)

			got, err := DecodeClient(payload)
			require.NoError(t, err)
			assert.Equal(t, cmd, got)
		})
	}
}

func TestServerCommands_RoundTrip(t *testing.T) {
	snapshot := &RoomSnapshot{
		ID:     "contest-1",
		State:  ClientState{Kind: StateSelectChart, HasChart: true, ChartID: 9},
		Live:   true,
		Locked: false,
		Cycle:  true,
		IsHost: true,
		Users: []UserInfo{
			{ID: 1, Name: "Alice"},
			{ID: 2, Name: "Bob"},
		},
		Monitors: []UserInfo{{ID: 3, Name: "Eve", Monitor: true}},
	}

	cases := []struct {
		name string
		cmd  ServerCommand
	}{
		{"pong", Pong{}},
		{"authenticate_ok", AuthenticateResp{Me: UserInfo{ID: 7, Name: "Alice"}, Room: snapshot}},
		{"authenticate_ok_no_room", AuthenticateResp{Me: UserInfo{ID: 7, Name: "Alice"}}},
		{"authenticate_err", AuthenticateResp{Err: "auth-invalid-token"}},
		{"chat_ok", ChatResp{}},
		{"chat_err", ChatResp{Err: "room-not-found"}},
		{"forward_touches", ForwardTouches{Frames: []TouchFrame{{Time: 1, Points: []TouchPoint{{ID: 2, X: 0.5, Y: 0.5}}}}}},
		{"forward_judges", ForwardJudges{Events: []JudgeEvent{{Time: 1, Line: 1, Note: 1, Judgement: 0}}}},
		{"message_chat", Message{Msg: RoomMessage{Kind: MessageChat, User: 1, Name: "Alice", Content: "hi"}}},
		{"message_select_chart", Message{Msg: RoomMessage{Kind: MessageSelectChart, User: 1, Name: "Alice", ChartID: 4}}},
		{"message_played", Message{Msg: RoomMessage{Kind: MessagePlayed, User: 1, Name: "Alice", Score: 999, Accuracy: 0.98, FullCombo: true}}},
		{"message_lock", Message{Msg: RoomMessage{Kind: MessageLockRoom, Lock: true}}},
		{"message_cycle", Message{Msg: RoomMessage{Kind: MessageCycleRoom, Cycle: true}}},
		{"message_start_playing", Message{Msg: RoomMessage{Kind: MessageStartPlaying}}},
		{"message_game_end", Message{Msg: RoomMessage{Kind: MessageGameEnd}}},
		{"message_new_host", Message{Msg: RoomMessage{Kind: MessageNewHost, User: 2, Name: "Bob"}}},
		{"change_state_select", ChangeState{State: ClientState{Kind: StateSelectChart, HasChart: true, ChartID: 12}}},
		{"change_state_waiting", ChangeState{State: ClientState{Kind: StateWaitingForReady}}},
		{"change_state_playing", ChangeState{State: ClientState{Kind: StatePlaying}}},
		{"change_host", ChangeHost{IsHost: true}},
		{"create_room_ok", CreateRoomResp{}},
		{"create_room_err", CreateRoomResp{Err: "create-id-occupied"}},
		{"join_room_ok", JoinRoomResp{Room: snapshot}},
		{"join_room_err", JoinRoomResp{Err: "join-room-full"}},
		{"on_join_room", OnJoinRoom{User: UserInfo{ID: 5, Name: "Carol"}}},
		{"leave_room", LeaveRoomResp{}},
		{"lock_room", LockRoomResp{Err: "room-only-host"}},
		{"cycle_room", CycleRoomResp{}},
		{"select_chart", SelectChartResp{Err: "chart-fetch-failed"}},
		{"request_start", RequestStartResp{}},
		{"ready", ReadyResp{Err: "room-already-ready"}},
		{"cancel_ready", CancelReadyResp{}},
		{"played", PlayedResp{Err: "record-invalid"}},
		{"abort", AbortResp{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := EncodeServer(tc.cmd)
			require.NotEmpty(t, payload)

			got, err := DecodeServer(payload)
			require.NoError(t, err)
			assert.Equal(t, tc.cmd, got)
		})
	}
}

func TestDecodeClient_UnknownTag(t *testing.T) {
	_, err := DecodeClient([]byte{0xee})
	assert.Error(t, err)
}

func TestDecodeClient_TrailingGarbage(t *testing.T) {
	payload := append(EncodeClient(Ping{}), 0x00)
	_, err := DecodeClient(payload)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodeClient_TruncatedBody(t *testing.T) {
	payload := EncodeClient(Authenticate{Token: "0123456789abcdef0123456789abcdef"})
	_, err := DecodeClient(payload[:len(payload)-5])
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestDecodeClient_EmptyPayload(t *testing.T) {
	_, err := DecodeClient(nil)
	assert.Error(t, err)
}

func TestTouchPoint_HalfPrecisionLoss(t *testing.T) {
	// Touch coordinates survive the f16 round trip only approximately;
	// the codec must stay within half-precision tolerance.
	in := Touches{Frames: []TouchFrame{{Time: 10, Points: []TouchPoint{{ID: 3, X: 0.123, Y: -0.456}}}}}
	got, err := DecodeClient(EncodeClient(in))
	require.NoError(t, err)

	out := got.(Touches)
	require.Len(t, out.Frames, 1)
	require.Len(t, out.Frames[0].Points, 1)
	assert.InDelta(t, 0.123, out.Frames[0].Points[0].X, 0.001)
	assert.InDelta(t, -0.456, out.Frames[0].Points[0].Y, 0.001)
}
