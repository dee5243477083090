package protocol

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrame_RejectsEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, nil), ErrInvalidLength)
	assert.Zero(t, buf.Len())
}

func TestReadFrame_RejectsZeroLength(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	hdr := []byte{0, 0, 0, 0xff} // ~4 GiB, way past MaxPayloadSize
	_, err := ReadFrame(bytes.NewReader(hdr))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	// Header claims 10 bytes, only 3 follow.
	data := []byte{10, 0, 0, 0, 1, 2, 3}
	_, err := ReadFrame(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestVarint_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 300, 16383, 16384, MaxStringLen} {
		w := &writer{}
		w.varint(n)

		r := &reader{buf: w.buf}
		assert.Equal(t, n, r.varint(), "varint %d", n)
		assert.NoError(t, r.finish())
	}
}

func TestVarint_RejectsOverlongEncoding(t *testing.T) {
	// Four continuation bytes push past the 16-bit cap.
	r := &reader{buf: []byte{0x80, 0x80, 0x80, 0x01}}
	r.varint()
	assert.ErrorIs(t, r.Err(), ErrStringTooLong)
}

func TestString_RoundTrip(t *testing.T) {
	w := &writer{}
	w.str("hello, 世界")

	r := &reader{buf: w.buf}
	assert.Equal(t, "hello, 世界", r.str())
	assert.NoError(t, r.finish())
}

func TestString_TruncatesAtCap(t *testing.T) {
	long := string(make([]byte, MaxStringLen+100))
	w := &writer{}
	w.str(long)

	r := &reader{buf: w.buf}
	assert.Len(t, r.str(), MaxStringLen)
	assert.NoError(t, r.finish())
}

func TestReader_StickyError(t *testing.T) {
	r := &reader{buf: []byte{0x01}}
	r.u32() // underflows
	assert.ErrorIs(t, r.Err(), ErrUnexpectedEOF)

	// All further reads are zero-valued, never panicking.
	assert.Equal(t, byte(0), r.byte())
	assert.Equal(t, "", r.str())
	assert.Equal(t, float32(0), r.f32())
}

func TestReader_FinishDetectsTrailingGarbage(t *testing.T) {
	r := &reader{buf: []byte{0x01, 0x02}}
	r.byte()
	assert.ErrorIs(t, r.finish(), ErrInvalidLength)
}

func TestVecLen_RejectsImpossibleCounts(t *testing.T) {
	// Count 200 with only a handful of bytes remaining.
	w := &writer{}
	w.varint(200)
	w.byte(0)

	r := &reader{buf: w.buf}
	r.vecLen()
	assert.ErrorIs(t, r.Err(), ErrUnexpectedEOF)
}

func TestFloat16_RoundTripExactValues(t *testing.T) {
	// Values exactly representable in binary16 survive unchanged.
	for _, v := range []float32{0, 1, -1, 0.5, 0.25, 2048, -0.125, 65504} {
		bits := float16Bits(v)
		assert.Equal(t, v, float16FromBits(bits), "value %v", v)
	}
}

func TestFloat16_SpecialValues(t *testing.T) {
	assert.True(t, math.IsInf(float64(float16FromBits(float16Bits(float32(math.Inf(1))))), 1))
	assert.True(t, math.IsInf(float64(float16FromBits(float16Bits(float32(math.Inf(-1))))), -1))
	assert.True(t, math.IsNaN(float64(float16FromBits(float16Bits(float32(math.NaN()))))))

	// Overflow saturates to infinity.
	assert.True(t, math.IsInf(float64(float16FromBits(float16Bits(1e6))), 1))

	// Negative zero keeps its sign bit.
	negZero := float16Bits(float32(math.Copysign(0, -1)))
	assert.Equal(t, uint16(0x8000), negZero)
}

func TestFloat16_SubnormalRoundTrip(t *testing.T) {
	// Smallest positive binary16 subnormal.
	const tiny = float32(5.9604645e-08)
	bits := float16Bits(tiny)
	assert.Equal(t, uint16(0x0001), bits)
	assert.InDelta(t, tiny, float16FromBits(bits), 1e-10)
}

func TestFloat16_PositionPrecision(t *testing.T) {
	// Touch positions live in [-1, 1]; half precision keeps ~3 decimal
	// digits there.
	for _, v := range []float32{0.123, -0.987, 0.333, 0.999} {
		got := float16FromBits(float16Bits(v))
		assert.InDelta(t, v, got, 0.001, "value %v", v)
	}
}
