// Package protocol implements the wire framing and the (id, state,
// direction)-keyed packet router [PACKETROUTER]. Framing is a 4-byte
// big-endian length prefix followed by a 1-byte packet id and
// big-endian-encoded fields (DESIGN.md Open Question decision #1),
// generalizing the teacher's own length-prefix-then-opcode framing in
// the same spot (there: 2-byte little-endian length + opcode byte).
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/crypto"
)

// MaxFrameLength bounds a single packet's length prefix so a corrupt or
// hostile frame cannot force an unbounded read.
const MaxFrameLength = 1 << 21

// State names a protocol state in the handshake's state machine
// (Handshaking, Status, Login, Play); defined here rather than in
// handshake to avoid an import cycle, since both protocol and handshake
// need it.
type State int

const (
	StateHandshaking State = iota
	StateStatus
	StateLogin
	StatePlay
)

// Direction distinguishes packets the server receives (Serverbound) from
// packets it sends (Clientbound).
type Direction int

const (
	Serverbound Direction = iota
	Clientbound
)

// Packet is a decoded frame: Id is the packet id byte, Payload is
// everything after it.
type Packet struct {
	ID      byte
	Payload []byte
}

// WriteFrame encrypts (if cipher is non-nil) and writes a single framed
// packet: id byte followed by payload, prefixed with a big-endian u32
// total length.
func WriteFrame(w io.Writer, cipher *crypto.Cipher, id byte, payload []byte) error {
	frame := make([]byte, 1+len(payload))
	frame[0] = id
	copy(frame[1:], payload)

	if cipher != nil {
		cipher.Encrypt.XORKeyStream(frame, frame)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))

	if _, err := w.Write(header[:]); err != nil {
		return coderr.Wrap(coderr.Io, "writing frame header", err)
	}
	if _, err := w.Write(frame); err != nil {
		return coderr.Wrap(coderr.Io, "writing frame body", err)
	}
	return nil
}

// ReadFrame reads one framed packet from r, decrypting it in place (if
// cipher is non-nil) and splitting it into id and payload.
func ReadFrame(r io.Reader, cipher *crypto.Cipher) (Packet, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, coderr.Wrap(coderr.Io, "reading frame header", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return Packet{}, coderr.New(coderr.Protocol, "empty frame")
	}
	if length > MaxFrameLength {
		return Packet{}, coderr.New(coderr.Protocol, fmt.Sprintf("frame length %d exceeds max %d", length, MaxFrameLength))
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return Packet{}, coderr.Wrap(coderr.Io, "reading frame body", err)
	}

	if cipher != nil {
		cipher.Decrypt.XORKeyStream(frame, frame)
	}

	return Packet{ID: frame[0], Payload: frame[1:]}, nil
}
