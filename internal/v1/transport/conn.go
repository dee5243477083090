// Package transport wraps a raw TCP socket into a framed protocol stream:
// version handshake, a sequential read pump that yields decoded commands,
// and a write pump that serialises outgoing frames so at most one write is
// in flight per connection.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
	"github.com/tempolink/tempolink/internal/v1/protocol"
)

// ErrUnsupportedVersion is returned when the client's handshake byte does
// not match protocol.ProtocolVersion.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

const (
	handshakeTimeout = 5 * time.Second
	writeWait        = 10 * time.Second
	sendBufferSize   = 256
)

// Conn is a framed protocol stream over a TCP connection.
//
// Outgoing frames are enqueued without blocking; a peer that cannot drain
// its buffer is closed rather than allowed to stall a broadcast. Incoming
// commands are delivered sequentially from a single read pump, so a given
// connection processes at most one command at a time.
type Conn struct {
	ID         string
	nc         net.Conn
	remoteAddr string

	send chan []byte

	lastRecv  atomic.Int64 // unix nanos, refreshed on every read
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
	pumpsDone chan struct{}
	wg        sync.WaitGroup
}

// NewConn wraps an accepted socket. Call Handshake before Start.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		ID:         uuid.New().String(),
		nc:         nc,
		remoteAddr: nc.RemoteAddr().String(),
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		pumpsDone:  make(chan struct{}),
	}
	c.lastRecv.Store(time.Now().UnixNano())
	return c
}

// RemoteAddr returns the peer address captured at accept time.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Handshake exchanges the single protocol version byte. The client's byte
// is read first; a version other than protocol.ProtocolVersion closes the
// connection before any upstream call can be issued.
func (c *Conn) Handshake() error {
	deadline := time.Now().Add(handshakeTimeout)
	if err := c.nc.SetDeadline(deadline); err != nil {
		return err
	}

	var version [1]byte
	if _, err := c.nc.Read(version[:]); err != nil {
		return err
	}
	if version[0] != protocol.ProtocolVersion {
		return ErrUnsupportedVersion
	}
	if _, err := c.nc.Write([]byte{protocol.ProtocolVersion}); err != nil {
		return err
	}

	return c.nc.SetDeadline(time.Time{})
}

// Start launches the read and write pumps. onCommand is invoked
// sequentially for each decoded command; onClose is invoked exactly once
// when the connection dies, with the triggering error (nil on local Close).
func (c *Conn) Start(onCommand func(protocol.ClientCommand), onClose func(error)) {
	metrics.IncConnection()

	var closeErr atomic.Value
	var closeOnce sync.Once
	reportClose := func(err error) {
		closeOnce.Do(func() {
			if err != nil {
				closeErr.Store(err)
			}
			c.Close()
		})
	}

	c.wg.Add(2)

	go func() { // write pump
		defer c.wg.Done()
		for {
			select {
			case <-c.done:
				return
			case payload := <-c.send:
				_ = c.nc.SetWriteDeadline(time.Now().Add(writeWait))
				if err := protocol.WriteFrame(c.nc, payload); err != nil {
					reportClose(err)
					return
				}
			}
		}
	}()

	go func() { // read pump
		defer c.wg.Done()
		src := &touchingReader{c: c}
		for {
			payload, err := protocol.ReadFrame(src)
			if err != nil {
				reportClose(err)
				return
			}
			cmd, err := protocol.DecodeClient(payload)
			if err != nil {
				logging.Warn(context.Background(), "protocol decode failed, closing connection",
					zap.String("session_id", c.ID), zap.Error(err))
				reportClose(err)
				return
			}
			onCommand(cmd)
		}
	}()

	go func() {
		c.wg.Wait()
		metrics.DecConnection()
		close(c.pumpsDone)
		var err error
		if v := closeErr.Load(); v != nil {
			err = v.(error)
		}
		onClose(err)
	}()
}

// Send encodes and enqueues a server command. A full buffer means the peer
// is too slow to keep up; the connection is closed so the sender is never
// blocked.
func (c *Conn) Send(cmd protocol.ServerCommand) {
	if c.closed.Load() {
		return
	}
	payload := protocol.EncodeServer(cmd)
	select {
	case c.send <- payload:
	default:
		metrics.BroadcastSendFailures.Inc()
		logging.Warn(context.Background(), "send buffer full, closing slow connection",
			zap.String("session_id", c.ID))
		c.Close()
	}
}

// LastRecv returns the time any byte was last received from the peer.
func (c *Conn) LastRecv() time.Time {
	return time.Unix(0, c.lastRecv.Load())
}

// IsClosed reports whether the connection has been torn down.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

// Close tears the connection down. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.nc.Close()
	})
}

// Done is closed once both pumps have exited. It only fires for
// connections that were Started.
func (c *Conn) Done() <-chan struct{} { return c.pumpsDone }

// touchingReader refreshes the heartbeat clock on every successful read so
// any received byte, not just complete frames, counts as liveness.
type touchingReader struct {
	c *Conn
}

func (t *touchingReader) Read(p []byte) (int, error) {
	n, err := t.c.nc.Read(p)
	if n > 0 {
		t.c.lastRecv.Store(time.Now().UnixNano())
	}
	return n, err
}
