// Package protocol implements the length-prefixed binary wire protocol
// spoken by the game client: frame IO, primitive encodings, and the typed
// client/server command unions. Commands are decoded once at the edge; the
// session engine never sees wire tags.
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ProtocolVersion is the single handshake byte exchanged before any framed
// traffic. Connections advertising any other version are closed immediately.
const ProtocolVersion byte = 1

// MaxPayloadSize bounds a single frame payload. Larger frames are rejected
// with ErrPayloadTooLarge and the connection is closed.
const MaxPayloadSize = 1 << 20

// MaxStringLen bounds length-prefixed strings; lengths are encoded as a
// varint capped to 16 bits.
const MaxStringLen = 1<<16 - 1

var (
	ErrInvalidLength   = errors.New("frame-invalid-length")
	ErrPayloadTooLarge = errors.New("frame-payload-too-large")
	ErrUnexpectedEOF   = errors.New("binary-unexpected-eof")
	ErrStringTooLong   = errors.New("binary-string-too-long")
)

// WriteFrame writes a single <u32 LE length><payload> frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrInvalidLength
	}
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads a single frame payload. Framing never partially commits:
// any error here must close the connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrInvalidLength
	}
	if n > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// writer accumulates a payload. All integers are little-endian.
type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) bool(b bool) {
	if b {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) f16(v float32) { w.u16(float16Bits(v)) }

// varint writes an unsigned LEB128 value bounded to 16 bits.
func (w *writer) varint(v int) {
	u := uint32(v)
	for u >= 0x80 {
		w.byte(byte(u) | 0x80)
		u >>= 7
	}
	w.byte(byte(u))
}

func (w *writer) str(s string) {
	if len(s) > MaxStringLen {
		s = s[:MaxStringLen]
	}
	w.varint(len(s))
	w.buf = append(w.buf, s...)
}

// reader consumes a payload with a sticky error: after the first failure all
// further reads return zero values and Err() reports the cause.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) Err() error { return r.err }

// finish reports trailing garbage as a framing error.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return ErrInvalidLength
	}
	return nil
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.remaining() < n {
		r.fail(ErrUnexpectedEOF)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool { return r.byte() != 0 }

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) f16() float32 { return float16FromBits(r.u16()) }

func (r *reader) varint() int {
	var v uint32
	var shift uint
	for {
		b := r.byte()
		if r.err != nil {
			return 0
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 14 {
			r.fail(ErrStringTooLong)
			return 0
		}
	}
	if v > MaxStringLen {
		r.fail(ErrStringTooLong)
		return 0
	}
	return int(v)
}

func (r *reader) str() string {
	n := r.varint()
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// vecLen reads a collection length, guarding against counts that cannot fit
// in the remaining bytes (each element is at least one byte).
func (r *reader) vecLen() int {
	n := r.varint()
	if r.err == nil && n > r.remaining() {
		r.fail(ErrUnexpectedEOF)
		return 0
	}
	return n
}

// Half-precision (IEEE 754 binary16) conversion, used by the compact
// touch-point encoding.

func float16Bits(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case int32(bits>>23&0xff) == 0xff:
		if mant != 0 {
			return sign | 0x7e00 // NaN
		}
		return sign | 0x7c00 // Inf
	case exp >= 0x1f:
		return sign | 0x7c00 // overflow to Inf
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	default:
		half := sign | uint16(exp)<<10 | uint16(mant>>13)
		if mant&0x1000 != 0 {
			half++
		}
		return half
	}
}

func float16FromBits(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0:
		if mant == 0 {
			bits = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for mant&0x400 == 0 {
				mant <<= 1
				e--
			}
			mant &= 0x3ff
			bits = sign<<31 | e<<23 | mant<<13
		}
	case exp == 0x1f:
		bits = sign<<31 | 0xff<<23 | mant<<13
	default:
		bits = sign<<31 | (exp+112)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}
