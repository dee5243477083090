package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tempolink/tempolink/internal/v1/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startConn performs the handshake from both ends and starts the pumps,
// returning the peer side of the pipe and channels fed by the callbacks.
func startConn(t *testing.T) (*Conn, net.Conn, chan protocol.ClientCommand, chan error) {
	t.Helper()
	server, client := net.Pipe()
	conn := NewConn(server)

	handshakeErr := make(chan error, 1)
	go func() { handshakeErr <- conn.Handshake() }()

	// Client side: send version, read echo.
	_, err := client.Write([]byte{protocol.ProtocolVersion})
	require.NoError(t, err)
	var echo [1]byte
	_, err = client.Read(echo[:])
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtocolVersion, echo[0])
	require.NoError(t, <-handshakeErr)

	commands := make(chan protocol.ClientCommand, 16)
	closed := make(chan error, 1)
	conn.Start(
		func(cmd protocol.ClientCommand) { commands <- cmd },
		func(err error) { closed <- err },
	)

	t.Cleanup(func() {
		conn.Close()
		_ = client.Close()
		select {
		case <-conn.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("pumps did not exit")
		}
	})

	return conn, client, commands, closed
}

func TestHandshake_RejectsWrongVersion(t *testing.T) {
	server, client := net.Pipe()
	defer func() { _ = client.Close() }()
	conn := NewConn(server)
	defer conn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Handshake() }()

	_, err := client.Write([]byte{0x7f})
	require.NoError(t, err)

	assert.ErrorIs(t, <-errCh, ErrUnsupportedVersion)
}

func TestConn_DeliversDecodedCommands(t *testing.T) {
	_, client, commands, _ := startConn(t)

	require.NoError(t, protocol.WriteFrame(client, protocol.EncodeClient(protocol.Chat{Message: "hi"})))

	select {
	case cmd := <-commands:
		assert.Equal(t, protocol.Chat{Message: "hi"}, cmd)
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestConn_SendWritesFrames(t *testing.T) {
	conn, client, _, _ := startConn(t)

	conn.Send(protocol.Pong{})

	payload, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	cmd, err := protocol.DecodeServer(payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong{}, cmd)
}

func TestConn_DecodeErrorClosesConnection(t *testing.T) {
	_, client, _, closed := startConn(t)

	// Unknown tag: the connection must not limp along.
	require.NoError(t, protocol.WriteFrame(client, []byte{0xee}))

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed on decode error")
	}
}

func TestConn_PeerCloseReportsLoss(t *testing.T) {
	_, client, _, closed := startConn(t)

	require.NoError(t, client.Close())

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loss not reported")
	}
}

func TestConn_SendAfterCloseIsNoop(t *testing.T) {
	conn, _, _, closed := startConn(t)

	conn.Close()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}

	// Must not panic or block.
	conn.Send(protocol.Pong{})
}

func TestConn_LastRecvAdvancesOnTraffic(t *testing.T) {
	conn, client, commands, _ := startConn(t)

	before := conn.LastRecv()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, protocol.WriteFrame(client, protocol.EncodeClient(protocol.Ping{})))
	<-commands

	assert.True(t, conn.LastRecv().After(before))
}
