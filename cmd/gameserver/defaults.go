package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/voxelcore/server/internal/protocol"
	"github.com/voxelcore/server/internal/world"
)

// flatGenerator produces a single layer of solid blocks at Y=0 for any
// column with no persisted data, enough to run the core standalone
// without a real deployment's world-generation algorithm plugged in
// (spec §1 leaves world generation to an external collaborator).
type flatGenerator struct{}

func (flatGenerator) Generate(ctx context.Context, coord world.ColumnCoord, col *world.Column) error {
	for x := int32(0); x < 16; x++ {
		for z := int32(0); z < 16; z++ {
			col.SetBlock(world.BlockID{X: x, Y: 0, Z: z}, world.Block{TypeID: 1})
		}
	}
	return nil
}

// noopPopulator performs no second-pass decoration. Structure/entity
// population is deployment-specific, same as generation.
type noopPopulator struct{}

func (noopPopulator) Populate(ctx context.Context, coord world.ColumnCoord, col *world.Column) error {
	return nil
}

// decodeColumn decodes a persisted column blob: one 15-byte record per
// occupied position, holding X, Y and Z as int32s followed by the block's
// TypeID (uint16) and Metadata (byte). Nothing in this repository writes
// the format; it exists so
// world.PersistenceLoader has something concrete to decode; a real
// deployment with its own block catalog supplies its own.
func decodeColumn(coord world.ColumnCoord, raw []byte, col *world.Column) error {
	const recordSize = 4 + 4 + 4 + 2 + 1
	for off := 0; off+recordSize <= len(raw); off += recordSize {
		x := int32(binary.BigEndian.Uint32(raw[off:]))
		y := int32(binary.BigEndian.Uint32(raw[off+4:]))
		z := int32(binary.BigEndian.Uint32(raw[off+8:]))
		typeID := binary.BigEndian.Uint16(raw[off+12:])
		meta := raw[off+14]
		col.SetBlock(world.BlockID{X: x, Y: y, Z: z}, world.Block{TypeID: typeID, Metadata: meta})
	}
	return nil
}

// noopAuthenticator accepts every login without cross-checking against
// an external session service, standing in for a real deployment's
// authenticator (spec §4.6 leaves the authenticator pluggable).
type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(ctx context.Context, username string, sharedSecret []byte) error {
	return nil
}

// noopReceiver discards every packet; used only as a placeholder when
// handshake construction itself fails, since the connection is already
// being disconnected at that point.
type noopReceiver struct{}

func (noopReceiver) HandlePacket(ctx context.Context, pkt protocol.Packet) error {
	return nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
