// Package handshake implements [HANDSHAKE]: the per-connection protocol
// state machine (Handshaking -> Status/Login -> Play), the encryption
// handshake that agrees an AES-128-CFB8 shared secret with an external
// authenticator callout, and keep-alive/inactivity timeouts for Play.
// Grounded on internal/login/handler.go's opcode-switch-with-state-guard
// style (HandlePacket) and handleRequestAuthLogin's RSA-decrypt-then-
// validate flow, generalized from a Blowfish session key to AES shared-
// secret agreement per spec §4.4/§4.6.
package handshake

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/codec"
	"github.com/voxelcore/server/internal/config"
	"github.com/voxelcore/server/internal/crypto"
	"github.com/voxelcore/server/internal/protocol"
	"github.com/voxelcore/server/internal/reactor"
)

// Packet ids used by the handshake state machine itself. Gameplay packet
// ids in Play are the router's concern, not this package's.
const (
	IDSetProtocol        = 0x00 // Handshaking, serverbound
	IDStatusRequest      = 0x00 // Status, serverbound
	IDStatusResponse     = 0x00 // Status, clientbound
	IDPing               = 0x01 // Status, both directions
	IDLoginStart         = 0x00 // Login, serverbound
	IDEncryptionRequest  = 0x01 // Login, clientbound
	IDEncryptionResponse = 0x01 // Login, serverbound
	IDLoginSuccess       = 0x02 // Login, clientbound
	IDDisconnect         = 0x1a // any state, clientbound
	IDKeepAlive          = 0x00 // Play, both directions
)

// SharedSecretLength is the only accepted decrypted shared-secret size
// (spec §4.6: "decrypt shared secret (must be 16 bytes)").
const SharedSecretLength = 16

// Sender is the narrow outbound surface a Handshake needs from whatever
// owns the underlying connection (internal/reactor's *Connection in
// practice). reactor does not import handshake, so depending on its
// concrete *reactor.SendHandle return type here does not create a cycle.
type Sender interface {
	Send(id byte, payload []byte) (*reactor.SendHandle, error)
	Disconnect(reason string)
}

// Authenticator is the external callout invoked once a client has
// proven possession of the shared secret, e.g. cross-checking a session
// against a login service. A nil error means the login is accepted.
type Authenticator interface {
	Authenticate(ctx context.Context, username string, sharedSecret []byte) error
}

// DescriptionFunc produces the server description sent in response to a
// Status request (typically a JSON motd/version/player-count blob); left
// pluggable since its shape is deployment-specific.
type DescriptionFunc func() []byte

// Handshake drives one connection's protocol state machine. One
// Handshake belongs to exactly one connection and must not be shared
// across goroutines beyond the connection's own receive path.
type Handshake struct {
	sender        Sender
	session       *crypto.Session
	keyPair       *rsa.PrivateKey
	serverID      int32
	verifyToken   []byte
	authenticator Authenticator
	description   DescriptionFunc
	router        *protocol.Router
	cfg           config.HandshakeConfig

	username string

	lastActivity  int64 // atomic, unix nanos
	pendingPingID int32 // atomic, 0 means none outstanding
	pendingPingAt int64 // atomic, unix nanos
}

// New creates a Handshake starting in Handshaking state, generating a
// fresh verify token for the connection's lifetime.
func New(sender Sender, keyPair *rsa.PrivateKey, serverID int32, auth Authenticator, desc DescriptionFunc, router *protocol.Router, cfg config.HandshakeConfig) (*Handshake, error) {
	token, err := crypto.NewVerifyToken()
	if err != nil {
		return nil, coderr.Wrap(coderr.Encryption, "generating verify token", err)
	}
	h := &Handshake{
		sender:        sender,
		session:       crypto.NewSession(int32(protocol.StateHandshaking)),
		keyPair:       keyPair,
		serverID:      serverID,
		verifyToken:   token,
		authenticator: auth,
		description:   desc,
		router:        router,
		cfg:           cfg,
	}
	h.touch()
	return h, nil
}

// State returns the handshake's current protocol state.
func (h *Handshake) State() protocol.State {
	return protocol.State(h.session.State())
}

// Session returns the crypto session backing this handshake, so that
// whatever owns the raw connection (internal/reactor's *Connection) can
// read the currently-installed cipher before encoding or decoding a
// frame. Exposed as *crypto.Session rather than handshake reaching into
// reactor, which would create an import cycle.
func (h *Handshake) Session() *crypto.Session {
	return h.session
}

func (h *Handshake) touch() {
	atomic.StoreInt64(&h.lastActivity, time.Now().UnixNano())
}

// HandlePacket processes one inbound packet against the current state,
// dispatching to the matching handler below or, in Play, to the router.
// Any packet that doesn't fit the current state fails with ProtocolError
// and disconnects (spec §4.6: "any packet arriving in an unexpected
// state fails with ProtocolError and disconnects").
func (h *Handshake) HandlePacket(ctx context.Context, pkt protocol.Packet) error {
	h.touch()

	switch h.State() {
	case protocol.StateHandshaking:
		return h.handleSetProtocol(pkt)
	case protocol.StateStatus:
		return h.handleStatus(pkt)
	case protocol.StateLogin:
		return h.handleLogin(ctx, pkt)
	case protocol.StatePlay:
		return h.handlePlay(ctx, pkt)
	default:
		return h.protocolError(fmt.Sprintf("unknown state %d", h.State()))
	}
}

func (h *Handshake) protocolError(detail string) error {
	err := coderr.Wrap(coderr.Protocol, coderr.ProtocolError.Reason, fmt.Errorf("%s", detail))
	h.sender.Disconnect("Protocol error")
	return err
}

func (h *Handshake) handleSetProtocol(pkt protocol.Packet) error {
	if pkt.ID != IDSetProtocol {
		return h.protocolError(fmt.Sprintf("unexpected packet id 0x%02x in Handshaking", pkt.ID))
	}
	r := codec.NewReader(pkt.Payload)
	next, err := r.ReadByte()
	if err != nil {
		return h.protocolError("truncated handshake packet")
	}

	switch next {
	case 1:
		h.session.Atomic(func() error { return nil }, nil, int32(protocol.StateStatus), nil)
	case 2:
		h.session.Atomic(func() error { return nil }, nil, int32(protocol.StateLogin), nil)
	default:
		return h.protocolError(fmt.Sprintf("unknown next-state %d", next))
	}
	return nil
}

func (h *Handshake) handleStatus(pkt protocol.Packet) error {
	switch pkt.ID {
	case IDStatusRequest:
		var desc []byte
		if h.description != nil {
			desc = h.description()
		}
		w := codec.GetWriter()
		defer codec.PutWriter(w)
		w.WriteString(string(desc))
		_, err := h.sender.Send(IDStatusResponse, w.Bytes())
		return err
	case IDPing:
		if _, err := h.sender.Send(IDPing, pkt.Payload); err != nil {
			return err
		}
		h.sender.Disconnect("")
		return nil
	default:
		return h.protocolError(fmt.Sprintf("unexpected packet id 0x%02x in Status", pkt.ID))
	}
}

func (h *Handshake) handleLogin(ctx context.Context, pkt protocol.Packet) error {
	switch pkt.ID {
	case IDLoginStart:
		return h.handleLoginStart(pkt)
	case IDEncryptionResponse:
		return h.handleEncryptionResponse(ctx, pkt)
	default:
		return h.protocolError(fmt.Sprintf("unexpected packet id 0x%02x in Login", pkt.ID))
	}
}

func (h *Handshake) handleLoginStart(pkt protocol.Packet) error {
	r := codec.NewReader(pkt.Payload)
	name, err := r.ReadString()
	if err != nil {
		return h.protocolError("malformed LoginStart")
	}
	h.username = name

	pubDER, err := crypto.PublicKeyDER(&h.keyPair.PublicKey)
	if err != nil {
		return coderr.Wrap(coderr.Encryption, "encoding public key", err)
	}

	w := codec.GetWriter()
	defer codec.PutWriter(w)
	w.WriteInt32(h.serverID)
	w.WriteUint16(uint16(len(pubDER)))
	w.WriteBytes(pubDER)
	w.WriteUint16(uint16(len(h.verifyToken)))
	w.WriteBytes(h.verifyToken)

	_, err = h.sender.Send(IDEncryptionRequest, w.Bytes())
	return err
}

func (h *Handshake) handleEncryptionResponse(ctx context.Context, pkt protocol.Packet) error {
	r := codec.NewReader(pkt.Payload)

	tokenLen, err := r.ReadUint16()
	if err != nil {
		return h.protocolError("malformed EncryptionResponse")
	}
	encryptedToken, err := r.ReadBytes(int(tokenLen))
	if err != nil {
		return h.protocolError("malformed EncryptionResponse")
	}
	secretLen, err := r.ReadUint16()
	if err != nil {
		return h.protocolError("malformed EncryptionResponse")
	}
	encryptedSecret, err := r.ReadBytes(int(secretLen))
	if err != nil {
		return h.protocolError("malformed EncryptionResponse")
	}

	token, err := crypto.DecryptPKCS1v15(h.keyPair, encryptedToken)
	if err != nil || !crypto.VerifyTokenMatches(h.verifyToken, token) {
		h.sender.Disconnect("Encryption error")
		return coderr.Wrap(coderr.Encryption, coderr.EncryptionError.Reason, fmt.Errorf("verify token mismatch"))
	}

	secret, err := crypto.DecryptPKCS1v15(h.keyPair, encryptedSecret)
	if err != nil || len(secret) != SharedSecretLength {
		h.sender.Disconnect("Encryption error")
		return coderr.New(coderr.Encryption, "invalid shared secret")
	}

	if h.authenticator != nil {
		if err := h.authenticator.Authenticate(ctx, h.username, secret); err != nil {
			h.sender.Disconnect("Authentication failed")
			return coderr.Wrap(coderr.Auth, "external authentication failed", err)
		}
	}

	cipher, err := crypto.NewCipher(secret)
	if err != nil {
		return coderr.Wrap(coderr.Encryption, "installing cipher", err)
	}

	w := codec.GetWriter()
	defer codec.PutWriter(w)
	w.WriteString(h.username)

	return h.session.Atomic(
		func() error {
			_, err := h.sender.Send(IDLoginSuccess, w.Bytes())
			return err
		},
		cipher,
		int32(protocol.StatePlay),
		func() { go h.RunKeepAlive(ctx) },
	)
}

func (h *Handshake) handlePlay(ctx context.Context, pkt protocol.Packet) error {
	if pkt.ID == IDKeepAlive {
		return h.handleKeepAliveReply(pkt)
	}
	if h.router == nil {
		return nil
	}
	return h.router.Dispatch(h.sender, pkt, protocol.StatePlay, protocol.Serverbound)
}

// handleKeepAliveReply processes a Play-state KeepAlive packet arriving
// from the client: id 0 is echoed verbatim (spec §4.6), any other id is
// checked against the outstanding server-issued ping.
func (h *Handshake) handleKeepAliveReply(pkt protocol.Packet) error {
	r := codec.NewReader(pkt.Payload)
	id, err := r.ReadUint32()
	if err != nil {
		return h.protocolError("malformed KeepAlive")
	}

	if id == 0 {
		_, err := h.sender.Send(IDKeepAlive, pkt.Payload)
		return err
	}

	atomic.CompareAndSwapInt32(&h.pendingPingID, int32(id), 0)
	return nil
}

// RunKeepAlive periodically emits a KeepAlive with a random non-zero id
// and checks both the keep-alive reply timeout and the independent
// inactivity timeout, disconnecting on either (spec §4.6). It runs until
// ctx is cancelled or a timeout fires; handleEncryptionResponse launches
// it in its own goroutine, from the Atomic transition's then callback,
// the moment a connection reaches Play.
func (h *Handshake) RunKeepAlive(ctx context.Context) {
	interval := time.Duration(h.cfg.KeepAliveIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := time.Duration(h.cfg.KeepAliveTimeoutSeconds) * time.Second
	inactivity := time.Duration(h.cfg.InactivityTimeoutSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.State() != protocol.StatePlay {
				continue
			}

			if pending := atomic.LoadInt32(&h.pendingPingID); pending != 0 {
				sentAt := time.Unix(0, atomic.LoadInt64(&h.pendingPingAt))
				if timeout > 0 && time.Since(sentAt) > timeout {
					h.sender.Disconnect("Ping timed out")
					return
				}
			} else {
				h.sendKeepAlive()
			}

			if inactivity > 0 {
				last := time.Unix(0, atomic.LoadInt64(&h.lastActivity))
				if elapsed := time.Since(last); elapsed > inactivity {
					h.sender.Disconnect(fmt.Sprintf(
						"Timeout of %dms exceeded (inactive for %dms)",
						inactivity.Milliseconds(), elapsed.Milliseconds(),
					))
					return
				}
			}
		}
	}
}

func (h *Handshake) sendKeepAlive() {
	id := randomNonZeroID()
	atomic.StoreInt32(&h.pendingPingID, id)
	atomic.StoreInt64(&h.pendingPingAt, time.Now().UnixNano())

	w := codec.GetWriter()
	defer codec.PutWriter(w)
	w.WriteUint32(uint32(id))
	if _, err := h.sender.Send(IDKeepAlive, w.Bytes()); err != nil {
		slog.Warn("handshake: keep-alive send failed", "err", err)
	}
}

func randomNonZeroID() int32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 1
		}
		id := int32(buf[0])<<24 | int32(buf[1])<<16 | int32(buf[2])<<8 | int32(buf[3])
		if id != 0 {
			return id
		}
	}
}
