// Package codec implements the big-endian typed wire encoding used by the
// packet layer: fixed-width integers and floats, length-prefixed UTF-8
// strings, bounded count-prefixed arrays, a strictly-validated boolean, and
// tagged IPv4/IPv6 addresses. It is the Go-native replacement for the
// teacher's little-endian, UTF-16LE packet.Reader/packet.Writer pair,
// generalized to the wire rules this protocol uses instead.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
	"sync"
	"unicode/utf8"

	"github.com/voxelcore/server/internal/coderr"
)

// MaxStringBytes bounds a single decoded string's encoded length, so a
// corrupt or hostile length prefix cannot force an oversized allocation.
const MaxStringBytes = 1 << 20

// MaxArrayCount bounds a single decoded array's element count for the same
// reason.
const MaxArrayCount = 1 << 20

// Reader decodes values from a byte slice, advancing an internal cursor.
// It never panics: every Read method returns a *coderr.Error on failure
// and leaves the cursor at the point of failure.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for decoding. The slice is not copied; the caller
// must not mutate it while the Reader is in use.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Position returns the current cursor offset.
func (r *Reader) Position() int { return r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return coderr.Wrap(coderr.Codec, coderr.InsufficientBytes.Reason,
			fmt.Errorf("need %d bytes, have %d", n, r.Remaining()))
	}
	return nil
}

// ReadByte reads a single unsigned byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBool reads a strictly-validated boolean: only 0x00 and 0x01 are
// legal encodings, matching the wire rule in spec §6.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, coderr.Wrap(coderr.Codec, coderr.InvalidBoolean.Reason,
			fmt.Errorf("byte value %d is not a valid boolean", b))
	}
}

// ReadInt16 reads a big-endian signed 16-bit integer.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint16 reads a big-endian unsigned 16-bit integer.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a big-endian unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt64 reads a big-endian signed 64-bit integer.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadUint64 reads a big-endian unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadFloat32 reads a big-endian IEEE-754 single-precision float.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads a big-endian IEEE-754 double-precision float.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads a u32-length-prefixed UTF-8 string, rejecting both an
// over-length prefix (LengthOverflow) and malformed UTF-8 (InvalidUtf8).
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > MaxStringBytes {
		return "", coderr.Wrap(coderr.Codec, coderr.LengthOverflow.Reason,
			fmt.Errorf("string length %d exceeds max %d", n, MaxStringBytes))
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	b := r.data[r.pos : r.pos+int(n)]
	if !utf8.Valid(b) {
		return "", coderr.Wrap(coderr.Codec, coderr.InvalidUtf8.Reason,
			fmt.Errorf("string at offset %d is not valid utf-8", r.pos))
	}
	r.pos += int(n)
	return string(b), nil
}

// ReadBytes reads n raw bytes and returns a copy (never a subslice of the
// underlying buffer, which may be pool-recycled by the caller).
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// ReadAddr reads a tagged address: one byte selecting family (4 = IPv4,
// 6 = IPv6) followed by the raw address bytes and a big-endian uint16 port.
func (r *Reader) ReadAddr() (netip.AddrPort, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return netip.AddrPort{}, err
	}
	var addrLen int
	switch tag {
	case 4:
		addrLen = 4
	case 6:
		addrLen = 16
	default:
		return netip.AddrPort{}, coderr.Wrap(coderr.Codec, coderr.ProtocolError.Reason,
			fmt.Errorf("unknown address family tag %d", tag))
	}
	raw, err := r.ReadBytes(addrLen)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := r.ReadUint16()
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr, ok := netip.AddrFromSlice(raw)
	if !ok {
		return netip.AddrPort{}, coderr.New(coderr.Codec, "malformed address bytes")
	}
	return netip.AddrPortFrom(addr, port), nil
}

// ReadArrayCount reads and bounds-checks a u32 element count for a
// count-prefixed array, so callers can pre-size a slice safely.
func (r *Reader) ReadArrayCount() (int, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if n > MaxArrayCount {
		return 0, coderr.Wrap(coderr.Codec, coderr.LengthOverflow.Reason,
			fmt.Errorf("array count %d exceeds max %d", n, MaxArrayCount))
	}
	if int(n) > r.Remaining() {
		return 0, coderr.Wrap(coderr.Codec, coderr.InsufficientBytes.Reason,
			fmt.Errorf("array count %d implausible with %d bytes remaining", n, r.Remaining()))
	}
	return int(n), nil
}

// Writer encodes values into a growable, pooled byte buffer.
type Writer struct {
	buf []byte
}

var writerPool = sync.Pool{
	New: func() any { return &Writer{buf: make([]byte, 0, 256)} },
}

// GetWriter fetches a pooled Writer, reset and ready to use. Callers must
// return it via PutWriter once its Bytes() have been consumed.
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.buf = w.buf[:0]
	return w
}

// PutWriter returns a Writer to the pool.
func PutWriter(w *Writer) {
	writerPool.Put(w)
}

// NewWriter allocates a standalone Writer outside the pool.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated buffer. The slice is only valid until the
// next write or Reset call.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset clears the buffer for reuse.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// WriteByte writes a single unsigned byte.
func (w *Writer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBool writes a strictly 0x00/0x01 boolean.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// WriteInt16 writes a big-endian signed 16-bit integer.
func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

// WriteUint16 writes a big-endian unsigned 16-bit integer.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// WriteInt32 writes a big-endian signed 32-bit integer.
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

// WriteUint32 writes a big-endian unsigned 32-bit integer.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteInt64 writes a big-endian signed 64-bit integer.
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// WriteUint64 writes a big-endian unsigned 64-bit integer.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = append(w.buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteFloat32 writes a big-endian IEEE-754 single-precision float.
func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 writes a big-endian IEEE-754 double-precision float.
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteString writes a u32-length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes raw bytes with no length prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteAddr writes a tagged IPv4/IPv6 address followed by its port.
func (w *Writer) WriteAddr(ap netip.AddrPort) error {
	addr := ap.Addr()
	switch {
	case addr.Is4():
		w.WriteByte(4)
		b := addr.As4()
		w.WriteBytes(b[:])
	case addr.Is6():
		w.WriteByte(6)
		b := addr.As16()
		w.WriteBytes(b[:])
	default:
		return coderr.New(coderr.Codec, "address is neither IPv4 nor IPv6")
	}
	w.WriteUint16(ap.Port())
	return nil
}

// WriteArrayCount writes a u32 element count for a count-prefixed array.
func (w *Writer) WriteArrayCount(n int) {
	w.WriteUint32(uint32(n))
}
