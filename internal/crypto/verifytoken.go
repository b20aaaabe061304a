package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// VerifyTokenSize is the length of the random nonce sent with the
// encryption request and echoed back (encrypted) by the client (spec §6).
const VerifyTokenSize = 4

// NewVerifyToken returns a fresh random verify token.
func NewVerifyToken() ([]byte, error) {
	tok := make([]byte, VerifyTokenSize)
	if _, err := rand.Read(tok); err != nil {
		return nil, fmt.Errorf("crypto: generating verify token: %w", err)
	}
	return tok, nil
}

// VerifyTokenMatches reports whether the token the client echoed back
// equals the one the server issued, in constant time so the comparison
// cannot leak timing information to a malicious client.
func VerifyTokenMatches(issued, received []byte) bool {
	if len(issued) != len(received) {
		return false
	}
	return subtle.ConstantTimeCompare(issued, received) == 1
}
