// Package replay captures in-game telemetry to per-user append-only files.
// Recording is strictly best-effort: every error is swallowed so a full disk
// or a permissions problem can never affect gameplay.
package replay

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
	"github.com/tempolink/tempolink/internal/v1/types"
)

// File format: 14-byte header (magic u16 LE, chartId u32 LE, userId u32 LE,
// recordId u32 LE) followed by repeated <u32 LE length><payload> frames of
// encoded Touches/Judges client commands. recordId is 0 at creation and
// patched in place once the upload returns.
const (
	Magic          uint16 = 0x504d
	headerSize            = 14
	recordIDOffset        = 10
	FileExtension         = ".phirarec"

	streamQueueSize = 512
)

type op struct {
	payload  []byte // frame to append, nil for a record-id patch
	recordID int32
}

// stream is one user's open replay file. Writes are serialised FIFO by a
// single goroutine consuming the queue.
type stream struct {
	userID types.UserID
	f      *os.File
	queue  chan op
}

// Recorder owns all active per-room recordings.
type Recorder struct {
	dir string

	mu    sync.Mutex
	rooms map[types.RoomID]map[types.UserID]*stream
	wg    sync.WaitGroup
}

// NewRecorder creates a recorder rooted at dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{
		dir:   dir,
		rooms: make(map[types.RoomID]map[types.UserID]*stream),
	}
}

// StartRoom opens a replay stream for every listed player. Idempotent per
// room while a recording is active.
func (r *Recorder) StartRoom(roomID types.RoomID, chartID int32, userIDs []types.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, active := r.rooms[roomID]; active {
		return
	}

	streams := make(map[types.UserID]*stream, len(userIDs))
	now := time.Now().UnixMilli()
	for _, uid := range userIDs {
		s, err := r.openStream(uid, chartID, now)
		if err != nil {
			logging.Warn(context.Background(), "failed to open replay stream",
				zap.String("room_id", string(roomID)), zap.Int32("user_id", int32(uid)), zap.Error(err))
			continue
		}
		streams[uid] = s
		r.wg.Add(1)
		go r.writeLoop(s)
	}
	r.rooms[roomID] = streams
}

func (r *Recorder) openStream(userID types.UserID, chartID int32, unixMillis int64) (*stream, error) {
	dir := filepath.Join(r.dir, fmt.Sprint(int32(userID)), fmt.Sprint(chartID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("%d%s", unixMillis, FileExtension))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint16(header[0:2], Magic)
	binary.LittleEndian.PutUint32(header[2:6], uint32(chartID))
	binary.LittleEndian.PutUint32(header[6:10], uint32(userID))
	binary.LittleEndian.PutUint32(header[10:14], 0)
	if _, err := f.Write(header[:]); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &stream{
		userID: userID,
		f:      f,
		queue:  make(chan op, streamQueueSize),
	}, nil
}

func (r *Recorder) writeLoop(s *stream) {
	defer r.wg.Done()
	defer func() { _ = s.f.Close() }()

	for o := range s.queue {
		if o.payload == nil {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(o.recordID))
			if _, err := s.f.WriteAt(buf[:], recordIDOffset); err != nil {
				logging.Warn(context.Background(), "replay record-id patch failed",
					zap.Int32("user_id", int32(s.userID)), zap.Error(err))
			}
			continue
		}

		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(o.payload)))
		if _, err := s.f.Write(hdr[:]); err != nil {
			logging.Warn(context.Background(), "replay write failed",
				zap.Int32("user_id", int32(s.userID)), zap.Error(err))
			continue
		}
		if _, err := s.f.Write(o.payload); err != nil {
			logging.Warn(context.Background(), "replay write failed",
				zap.Int32("user_id", int32(s.userID)), zap.Error(err))
			continue
		}
		metrics.ReplayBytesWritten.Add(float64(len(o.payload) + 4))
	}
}

// Record appends one encoded telemetry command to a player's stream. A
// missing stream or a full queue drops the frame silently. The enqueue
// stays under the mutex so it cannot race a concurrent EndRoom close.
func (r *Recorder) Record(roomID types.RoomID, userID types.UserID, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	streams, ok := r.rooms[roomID]
	if !ok {
		return
	}
	s, ok := streams[userID]
	if !ok {
		return
	}
	select {
	case s.queue <- op{payload: payload}:
	default:
		// Recording must never block gameplay; drop under pressure.
	}
}

// SetRecordID patches the record id into a player's file header once the
// upstream upload has been confirmed.
func (r *Recorder) SetRecordID(roomID types.RoomID, userID types.UserID, recordID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	streams, ok := r.rooms[roomID]
	if !ok {
		return
	}
	s, ok := streams[userID]
	if !ok {
		return
	}
	select {
	case s.queue <- op{recordID: recordID}:
	default:
	}
}

// EndRoom closes all of a room's streams; queued writes drain before the
// files close.
func (r *Recorder) EndRoom(roomID types.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	streams, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(r.rooms, roomID)
	for _, s := range streams {
		close(s.queue)
	}
}

// Close ends every active recording and waits for all writes to land.
func (r *Recorder) Close() {
	r.mu.Lock()
	for _, streams := range r.rooms {
		for _, s := range streams {
			close(s.queue)
		}
	}
	r.rooms = make(map[types.RoomID]map[types.UserID]*stream)
	r.mu.Unlock()

	r.wg.Wait()
}
