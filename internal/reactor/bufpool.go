package reactor

import (
	"encoding/binary"
	"sync"

	"github.com/voxelcore/server/internal/crypto"
)

// bytePool is a pool of reusable []byte buffers for outbound frames, adapted
// from the teacher's gameserver.BytePool (same Get/Put shape, same
// sync.Pool-of-slices idiom).
type bytePool struct {
	pool sync.Pool
}

func newBytePool(defaultCap int) *bytePool {
	p := &bytePool{}
	p.pool.New = func() any {
		return make([]byte, 0, defaultCap)
	}
	return p
}

func (p *bytePool) Get(size int) []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < size {
		p.pool.Put(b)
		return make([]byte, size)
	}
	b = b[:size]
	return b
}

func (p *bytePool) Put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:0])
}

// FrameToPooled builds a length-prefixed, optionally-encrypted frame
// (header + id + payload) into a buffer drawn from the pool, mirroring
// the teacher's writePool.EncryptToPooled call convention at its
// gameserver/server.go and handler.go send sites. The caller owns the
// returned slice and must Put it back once written.
func (p *bytePool) FrameToPooled(cipher *crypto.Cipher, id byte, payload []byte) []byte {
	total := 4 + 1 + len(payload)
	buf := p.Get(total)

	buf[4] = id
	copy(buf[5:], payload)

	if cipher != nil {
		cipher.Encrypt.XORKeyStream(buf[4:], buf[4:])
	}

	binary.BigEndian.PutUint32(buf[:4], uint32(1+len(payload)))
	return buf
}
