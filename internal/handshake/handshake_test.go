package handshake_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/codec"
	"github.com/voxelcore/server/internal/config"
	"github.com/voxelcore/server/internal/crypto"
	"github.com/voxelcore/server/internal/handshake"
	"github.com/voxelcore/server/internal/protocol"
	"github.com/voxelcore/server/internal/reactor"
)

type fakeSender struct {
	sent       []protocol.Packet
	disconnect string
	closed     bool
}

func (f *fakeSender) Send(id byte, payload []byte) (*reactor.SendHandle, error) {
	f.sent = append(f.sent, protocol.Packet{ID: id, Payload: append([]byte(nil), payload...)})
	return nil, nil
}

func (f *fakeSender) Disconnect(reason string) {
	f.closed = true
	f.disconnect = reason
}

type allowAuthenticator struct{ calledWith string }

func (a *allowAuthenticator) Authenticate(ctx context.Context, username string, secret []byte) error {
	a.calledWith = username
	return nil
}

type testFixture struct {
	h      *handshake.Handshake
	sender *fakeSender
	keys   *rsa.PrivateKey
}

func newTestHandshake(t *testing.T) *testFixture {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sender := &fakeSender{}
	h, err := handshake.New(sender, keys, 1, &allowAuthenticator{}, func() []byte { return []byte("desc") }, protocol.NewRouter(false), config.HandshakeConfig{
		KeepAliveIntervalSeconds: 15,
		KeepAliveTimeoutSeconds:  30,
		InactivityTimeoutSeconds: 60,
	})
	require.NoError(t, err)
	return &testFixture{h: h, sender: sender, keys: keys}
}

func setProtocolPacket(next byte) protocol.Packet {
	w := codec.GetWriter()
	defer codec.PutWriter(w)
	w.WriteByte(next)
	return protocol.Packet{ID: handshake.IDSetProtocol, Payload: append([]byte(nil), w.Bytes()...)}
}

func loginStartPacket(name string) protocol.Packet {
	w := codec.GetWriter()
	defer codec.PutWriter(w)
	w.WriteString(name)
	return protocol.Packet{ID: handshake.IDLoginStart, Payload: append([]byte(nil), w.Bytes()...)}
}

func (f *testFixture) encryptionResponsePacket(t *testing.T, token, secret []byte) protocol.Packet {
	t.Helper()
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, &f.keys.PublicKey, token)
	require.NoError(t, err)
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, &f.keys.PublicKey, secret)
	require.NoError(t, err)

	w := codec.GetWriter()
	defer codec.PutWriter(w)
	w.WriteUint16(uint16(len(encToken)))
	w.WriteBytes(encToken)
	w.WriteUint16(uint16(len(encSecret)))
	w.WriteBytes(encSecret)
	return protocol.Packet{ID: handshake.IDEncryptionResponse, Payload: append([]byte(nil), w.Bytes()...)}
}

func TestHandshakeTransitionsHandshakingToLogin(t *testing.T) {
	f := newTestHandshake(t)
	require.Equal(t, protocol.StateHandshaking, f.h.State())

	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(2)))
	require.Equal(t, protocol.StateLogin, f.h.State())
}

func TestHandshakeTransitionsHandshakingToStatus(t *testing.T) {
	f := newTestHandshake(t)
	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(1)))
	require.Equal(t, protocol.StateStatus, f.h.State())
}

func TestHandshakeRejectsUnknownNextState(t *testing.T) {
	f := newTestHandshake(t)
	err := f.h.HandlePacket(context.Background(), setProtocolPacket(9))
	require.Error(t, err)
	require.True(t, f.sender.closed)
}

func TestHandshakeStatusRequestRespondsWithDescription(t *testing.T) {
	f := newTestHandshake(t)
	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(1)))

	err := f.h.HandlePacket(context.Background(), protocol.Packet{ID: handshake.IDStatusRequest})
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	require.Equal(t, byte(handshake.IDStatusResponse), f.sender.sent[0].ID)
}

func TestHandshakeStatusPingEchoesAndCloses(t *testing.T) {
	f := newTestHandshake(t)
	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(1)))

	ping := protocol.Packet{ID: handshake.IDPing, Payload: []byte{1, 2, 3, 4}}
	require.NoError(t, f.h.HandlePacket(context.Background(), ping))
	require.True(t, f.sender.closed)
	require.Equal(t, ping.Payload, f.sender.sent[len(f.sender.sent)-1].Payload)
}

func TestHandshakeRejectsPacketInWrongState(t *testing.T) {
	f := newTestHandshake(t)
	// Still Handshaking - a Login-only packet is out of place.
	err := f.h.HandlePacket(context.Background(), protocol.Packet{ID: handshake.IDLoginStart, Payload: nil})
	require.Error(t, err)
	require.True(t, f.sender.closed)
	require.Equal(t, "Protocol error", f.sender.disconnect)
}

func TestHandshakeLoginHappyPathReachesPlay(t *testing.T) {
	f := newTestHandshake(t)
	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(2)))

	require.NoError(t, f.h.HandlePacket(context.Background(), loginStartPacket("player1")))
	require.Len(t, f.sender.sent, 1)
	require.Equal(t, byte(handshake.IDEncryptionRequest), f.sender.sent[0].ID)

	// Parse server_id, pubkey, verify token back out of EncryptionRequest.
	r := codec.NewReader(f.sender.sent[0].Payload)
	_, err := r.ReadInt32()
	require.NoError(t, err)
	pubLen, err := r.ReadUint16()
	require.NoError(t, err)
	_, err = r.ReadBytes(int(pubLen))
	require.NoError(t, err)
	tokenLen, err := r.ReadUint16()
	require.NoError(t, err)
	issuedToken, err := r.ReadBytes(int(tokenLen))
	require.NoError(t, err)

	secret := make([]byte, handshake.SharedSecretLength)
	for i := range secret {
		secret[i] = byte(i + 1)
	}

	respPkt := f.encryptionResponsePacket(t, issuedToken, secret)

	require.NoError(t, f.h.HandlePacket(context.Background(), respPkt))
	require.Equal(t, protocol.StatePlay, f.h.State())
	require.Equal(t, byte(handshake.IDLoginSuccess), f.sender.sent[len(f.sender.sent)-1].ID)
}

func TestHandshakeEncryptionResponseWrongTokenFailsWithEncryptionError(t *testing.T) {
	f := newTestHandshake(t)
	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(2)))
	require.NoError(t, f.h.HandlePacket(context.Background(), loginStartPacket("player1")))

	wrongToken := []byte{9, 9, 9, 9}
	secret := make([]byte, handshake.SharedSecretLength)
	respPkt := f.encryptionResponsePacket(t, wrongToken, secret)

	err := f.h.HandlePacket(context.Background(), respPkt)
	require.Error(t, err)
	require.True(t, f.sender.closed)
	require.Equal(t, "Encryption error", f.sender.disconnect)
	require.NotEqual(t, protocol.StatePlay, f.h.State())
}

func TestHandshakeEncryptionResponseWrongSecretLengthFails(t *testing.T) {
	f := newTestHandshake(t)
	require.NoError(t, f.h.HandlePacket(context.Background(), setProtocolPacket(2)))
	require.NoError(t, f.h.HandlePacket(context.Background(), loginStartPacket("player1")))

	r := codec.NewReader(f.sender.sent[0].Payload)
	_, _ = r.ReadInt32()
	pubLen, _ := r.ReadUint16()
	_, _ = r.ReadBytes(int(pubLen))
	tokenLen, _ := r.ReadUint16()
	issuedToken, _ := r.ReadBytes(int(tokenLen))

	shortSecret := []byte{1, 2, 3}
	respPkt := f.encryptionResponsePacket(t, issuedToken, shortSecret)

	err := f.h.HandlePacket(context.Background(), respPkt)
	require.Error(t, err)
	require.True(t, f.sender.closed)
	require.Equal(t, "Encryption error", f.sender.disconnect)
}
