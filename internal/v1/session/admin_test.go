package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempolink/tempolink/internal/v1/config"
	"github.com/tempolink/tempolink/internal/v1/protocol"
	"github.com/tempolink/tempolink/internal/v1/types"
)

func TestListRooms_HidesPrivateRooms(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	f.createRoom(alice, "_ops")
	f.createRoom(bob, "pub")

	rooms := f.hub.ListRooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "pub", rooms[0].ID)

	// Private rooms stay reachable through the detail view.
	d, err := f.hub.RoomDetails("_ops")
	require.NoError(t, err)
	assert.Equal(t, "_ops", d.ID)
}

func TestRoomDetails(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	mona := f.connect("tok-mona")
	f.createRoom(alice, "lobby")
	require.NoError(t, f.hub.handleJoinRoom(mona, protocol.JoinRoom{RoomID: "lobby", Monitor: true}))

	d, err := f.hub.RoomDetails("lobby")
	require.NoError(t, err)
	assert.Equal(t, "select-chart", d.State)
	assert.Equal(t, types.UserID(42), d.Host)
	assert.Equal(t, 1, d.Players)
	assert.Equal(t, 1, d.Monitors)
	require.Len(t, d.Members, 2)
	assert.Equal(t, "Alice", d.Members[0].Name)
	assert.True(t, d.Members[1].Monitor)

	_, err = f.hub.RoomDetails("nowhere")
	assert.ErrorIs(t, err, types.CodeRoomNotFound)
}

func TestListUsers_IncludesDangling(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	f.connect("tok-bob")
	f.createRoom(alice, "lobby")
	f.hub.handleLoss(alice, nil)

	users := f.hub.ListUsers()
	require.Len(t, users, 2)
	assert.Equal(t, types.UserID(42), users[0].ID)
	assert.False(t, users[0].Online)
	assert.Equal(t, "lobby", users[0].Room)
	assert.True(t, users[1].Online)
}

func TestSetRoomMaxUsers_ClampsAndNeverEvicts(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	f.createRoom(alice, "lobby")
	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "lobby"}))

	require.NoError(t, f.hub.SetRoomMaxUsers("lobby", 1000))
	assert.Equal(t, config.MaxRoomMaxUsers, f.room("lobby").MaxUsers)

	require.NoError(t, f.hub.SetRoomMaxUsers("lobby", 1))
	assert.Len(t, f.room("lobby").Users, 2)

	carol := f.connect("tok-carol")
	err := f.hub.handleJoinRoom(carol, protocol.JoinRoom{RoomID: "lobby"})
	assert.ErrorIs(t, err, types.CodeJoinRoomFull)
}

func TestDisbandRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	f.createRoom(alice, "lobby")
	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "lobby"}))

	require.NoError(t, f.hub.DisbandRoom("lobby"))

	assert.Nil(t, f.room("lobby"))
	assert.Empty(t, f.user(42).RoomID)
	assert.Empty(t, f.user(43).RoomID)

	assert.ErrorIs(t, f.hub.DisbandRoom("lobby"), types.CodeRoomNotFound)
}

func TestContest_WhitelistGatesJoin(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	carol := f.connect("tok-carol")
	f.createRoom(alice, "contest")

	require.NoError(t, f.hub.SetContest("contest", ContestSettings{Whitelist: []types.UserID{43}}))

	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "contest"}))
	err := f.hub.handleJoinRoom(carol, protocol.JoinRoom{RoomID: "contest"})
	assert.ErrorIs(t, err, types.CodeRoomNotWhitelisted)

	require.NoError(t, f.hub.UpdateContestWhitelist("contest", []types.UserID{44}))
	require.NoError(t, f.hub.handleJoinRoom(carol, protocol.JoinRoom{RoomID: "contest"}))

	// Replacing the whitelist never locks out current members.
	d, err := f.hub.RoomDetails("contest")
	require.NoError(t, err)
	assert.Contains(t, d.Whitelist, types.UserID(42))
	assert.Contains(t, d.Whitelist, types.UserID(43))
}

func TestContest_ManualStart(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	f.createRoom(alice, "contest")
	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "contest"}))
	require.NoError(t, f.hub.SetContest("contest", ContestSettings{ManualStart: true}))

	require.NoError(t, f.hub.handleSelectChart(alice, protocol.SelectChart{ChartID: 7}))
	require.NoError(t, f.hub.handleRequestStart(alice))

	// Stragglers block a non-forced start.
	assert.ErrorIs(t, f.hub.StartContest("contest", false), types.CodeRoomNotReady)

	// All-ready no longer starts the game on its own.
	require.NoError(t, f.hub.handleReady(bob))
	assert.Equal(t, RoomWaitForReady, f.roomState("contest"))

	require.NoError(t, f.hub.StartContest("contest", false))
	assert.Equal(t, RoomPlaying, f.roomState("contest"))
}

func TestContest_ForcedStart(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	f.createRoom(alice, "contest")
	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "contest"}))
	require.NoError(t, f.hub.SetContest("contest", ContestSettings{ManualStart: true}))

	require.NoError(t, f.hub.handleSelectChart(alice, protocol.SelectChart{ChartID: 7}))
	require.NoError(t, f.hub.handleRequestStart(alice))

	require.NoError(t, f.hub.StartContest("contest", true))
	assert.Equal(t, RoomPlaying, f.roomState("contest"))
}

func TestContest_AutoDisband(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	f.createRoom(alice, "contest")
	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "contest"}))
	require.NoError(t, f.hub.SetContest("contest", ContestSettings{AutoDisband: true}))

	f.startPlaying(alice, bob)
	require.NoError(t, f.hub.handlePlayed(alice, protocol.Played{RecordID: 31}))
	require.NoError(t, f.hub.handlePlayed(bob, protocol.Played{RecordID: 32}))

	assert.Nil(t, f.room("contest"))
	assert.Empty(t, f.user(42).RoomID)
	assert.Empty(t, f.user(43).RoomID)
}

func TestClearContest(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	carol := f.connect("tok-carol")
	f.createRoom(alice, "contest")
	require.NoError(t, f.hub.SetContest("contest", ContestSettings{}))

	err := f.hub.handleJoinRoom(carol, protocol.JoinRoom{RoomID: "contest"})
	assert.ErrorIs(t, err, types.CodeRoomNotWhitelisted)

	require.NoError(t, f.hub.ClearContest("contest"))
	assert.NoError(t, f.hub.handleJoinRoom(carol, protocol.JoinRoom{RoomID: "contest"}))
}

func TestUpdateContestWhitelist_RequiresContest(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	f.createRoom(alice, "lobby")

	err := f.hub.UpdateContestWhitelist("lobby", []types.UserID{43})
	assert.ErrorIs(t, err, types.CodeRoomInvalidState)
}

func TestBroadcastChat_Validation(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	f.createRoom(alice, "lobby")

	assert.Error(t, f.hub.BroadcastChat("lobby", "   "))
	assert.Error(t, f.hub.BroadcastChat("lobby", string(make([]byte, maxAdminChatLen+1))))
	assert.ErrorIs(t, f.hub.BroadcastChat("nowhere", "hello"), types.CodeRoomNotFound)

	assert.NoError(t, f.hub.BroadcastChat("lobby", "maintenance in 5 minutes"))
	assert.NoError(t, f.hub.BroadcastChat("", "server-wide notice"))
}

func TestDisconnect_UnknownUser(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.hub.Disconnect(7, false), types.CodeUserNotFound)
}

func TestDisconnect_PreserveRoomSkipsDangle(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	f.createRoom(alice, "lobby")

	require.NoError(t, f.hub.Disconnect(42, true))
	f.hub.handleLoss(alice, nil)

	u := f.user(42)
	require.NotNil(t, u)
	assert.False(t, u.Online())
	assert.Equal(t, types.RoomID("lobby"), u.RoomID)
}

func TestMoveUser(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")
	carol := f.connect("tok-carol")
	f.createRoom(alice, "roomA")
	f.createRoom(carol, "roomB")
	require.NoError(t, f.hub.handleJoinRoom(bob, protocol.JoinRoom{RoomID: "roomA"}))

	// Only disconnected users can be moved.
	assert.ErrorIs(t, f.hub.MoveUser(43, "roomB", false), types.CodeUserStillConnected)

	require.NoError(t, f.hub.Disconnect(43, true))
	f.hub.handleLoss(bob, nil)

	assert.ErrorIs(t, f.hub.MoveUser(43, "roomA", false), types.CodeRoomAlreadyInRoom)
	assert.ErrorIs(t, f.hub.MoveUser(43, "nowhere", false), types.CodeRoomNotFound)
	assert.ErrorIs(t, f.hub.MoveUser(7, "roomB", false), types.CodeUserNotFound)

	require.NoError(t, f.hub.MoveUser(43, "roomB", false))
	assert.Equal(t, types.RoomID("roomB"), f.user(43).RoomID)
	assert.False(t, f.room("roomA").isMember(43))
	assert.True(t, f.room("roomB").isMember(43))
}

func TestSettings_Toggles(t *testing.T) {
	f := newFixture(t)

	s := f.hub.CurrentSettings()
	assert.False(t, s.ReplayEnabled)
	assert.True(t, s.RoomCreationEnabled)

	f.hub.SetReplayEnabled(true)
	f.hub.SetRoomCreationEnabled(false)

	s = f.hub.CurrentSettings()
	assert.True(t, s.ReplayEnabled)
	assert.False(t, s.RoomCreationEnabled)
}

func TestReplayToggle_AffectsNewRoomsOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	bob := f.connect("tok-bob")

	f.createRoom(alice, "before")
	f.hub.SetReplayEnabled(true)
	f.createRoom(bob, "after")

	assert.False(t, f.room("before").ReplayEligible)
	assert.False(t, f.room("before").Live)
	assert.True(t, f.room("after").ReplayEligible)
	assert.True(t, f.room("after").Live)
}

func TestCurrentStats(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("tok-alice")
	f.connect("tok-bob")
	f.createRoom(alice, "lobby")

	s := f.hub.CurrentStats()
	assert.Equal(t, 2, s.Sessions)
	assert.Equal(t, 2, s.Users)
	assert.Equal(t, 1, s.Rooms)
}
