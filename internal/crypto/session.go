package crypto

import "sync"

// Cipher bundles the two CFB8 streams a connection uses once encryption
// is live: one direction per stream, both seeded from the same AES key
// and IV per the handshake (spec §6).
type Cipher struct {
	Encrypt *CFB8
	Decrypt *CFB8
}

// NewCipher builds the encrypt/decrypt pair from a shared secret, using
// the secret itself as the CFB8 IV as the protocol specifies.
func NewCipher(sharedSecret []byte) (*Cipher, error) {
	enc, err := NewCFB8Encrypter(sharedSecret, sharedSecret)
	if err != nil {
		return nil, err
	}
	dec, err := NewCFB8Decrypter(sharedSecret, sharedSecret)
	if err != nil {
		return nil, err
	}
	return &Cipher{Encrypt: enc, Decrypt: dec}, nil
}

// Session holds a connection's mutable crypto/protocol-state: the
// currently-installed cipher (nil before encryption begins) and an
// opaque protocol state value owned by the handshake package. It
// serializes the state-changing handshake steps so that the reply bytes
// for a transition, the cipher it installs, and the state the connection
// advances to all take effect as one indivisible step, mirroring how the
// teacher's GameClient guards its mutable fields behind a single mutex
// rather than a sequence of separately-locked updates.
type Session struct {
	mu     sync.Mutex
	cipher *Cipher
	state  int32
}

// NewSession creates a session starting in the given initial state with
// no cipher installed.
func NewSession(initialState int32) *Session {
	return &Session{state: initialState}
}

// Cipher returns the currently-installed cipher, or nil if encryption has
// not yet been established.
func (s *Session) Cipher() *Cipher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cipher
}

// State returns the current protocol state.
func (s *Session) State() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Atomic performs the handshake's state-changing step as a single
// critical section: it calls send (for any reply bytes that must go out
// still under the old cipher/state), installs newCipher (which may be
// nil to mean "leave the existing cipher untouched"), advances to
// newState, and finally calls then — all while holding the session lock,
// so no byte read or written elsewhere can straddle the regime change.
func (s *Session) Atomic(send func() error, newCipher *Cipher, newState int32, then func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if send != nil {
		if err := send(); err != nil {
			return err
		}
	}
	if newCipher != nil {
		s.cipher = newCipher
	}
	s.state = newState
	if then != nil {
		then()
	}
	return nil
}
