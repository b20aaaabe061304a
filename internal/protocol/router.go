package protocol

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxelcore/server/internal/coderr"
)

// Handler processes one packet's payload for a connection, identified by
// an opaque conn value the caller supplies (the reactor's *Connection in
// practice; left as `any` here to avoid an import cycle).
type Handler func(conn any, payload []byte) error

type routeKey struct {
	id        byte
	state     State
	direction Direction
}

// Router dispatches packets by (id, state, direction), generalizing the
// teacher's per-opcode switch-with-state-guard style
// (internal/login/handler.go's HandlePacket) into a registry so packet
// sets can grow without touching a single giant switch statement.
type Router struct {
	mu    sync.RWMutex
	table map[routeKey]Handler
	debug bool
}

// NewRouter creates an empty router. debug toggles per-dispatch logging;
// it never changes dispatch order or semantics, only observability.
func NewRouter(debug bool) *Router {
	return &Router{table: make(map[routeKey]Handler), debug: debug}
}

// Register installs h as the handler for (id, state, direction). Re-
// registering the same key overwrites the previous handler.
func (r *Router) Register(id byte, state State, direction Direction, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[routeKey{id, state, direction}] = h
}

// Dispatch looks up and invokes the handler for (pkt.ID, state,
// direction), returning an UnknownPacket protocol error if none is
// registered - a Status/Login/Play packet id is only ever valid within
// the state(s) it was registered for.
func (r *Router) Dispatch(conn any, pkt Packet, state State, direction Direction) error {
	r.mu.RLock()
	h, ok := r.table[routeKey{pkt.ID, state, direction}]
	r.mu.RUnlock()

	if r.debug {
		slog.Debug("protocol dispatch", "id", pkt.ID, "state", state, "direction", direction, "matched", ok)
	}

	if !ok {
		return coderr.Wrap(coderr.Protocol, coderr.UnknownPacket.Reason,
			fmt.Errorf("no handler for id=0x%02x state=%d direction=%d", pkt.ID, state, direction))
	}
	return h(conn, pkt.Payload)
}
