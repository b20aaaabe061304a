// Package coderr defines the error-kind taxonomy shared across the core:
// codec, reactor, crypto, handshake, world store and world lock all wrap
// one of these sentinels so callers can branch with errors.Is instead of
// parsing message strings.
package coderr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure from the taxonomy.
type Kind int

const (
	// Io covers OS-level socket/file failures.
	Io Kind = iota
	// Protocol covers wire frame violations or packets unexpected in the
	// current protocol state.
	Protocol
	// Codec covers InsufficientBytes/InvalidUtf8/InvalidBoolean/LengthOverflow.
	Codec
	// Encryption covers key/IV mismatch and verify-token mismatch.
	Encryption
	// Auth covers external-authenticator denial or unreachability.
	Auth
	// Backpressure signals a send queue cap was exceeded.
	Backpressure
	// Disconnected signals an operation on an already-closed connection.
	Disconnected
	// PoolShutdown signals a promise cancelled by scheduler teardown.
	PoolShutdown
	// NotFound signals a persistence miss or an unloadable column.
	NotFound
	// Contention signals a non-blocking world-lock acquire could not proceed.
	Contention
	// Fatal signals an invariant violation that should reach the panic hook.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "Io"
	case Protocol:
		return "Protocol"
	case Codec:
		return "Codec"
	case Encryption:
		return "Encryption"
	case Auth:
		return "Auth"
	case Backpressure:
		return "Backpressure"
	case Disconnected:
		return "Disconnected"
	case PoolShutdown:
		return "PoolShutdown"
	case NotFound:
		return "NotFound"
	case Contention:
		return "Contention"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. It wraps an optional cause and carries
// a sub-reason string used for the codec's exact error-kind matching
// (InsufficientBytes, InvalidUtf8, InvalidBoolean, LengthOverflow, ...).
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind (and, if
// target.Reason is non-empty, the same Reason). This lets callers match
// either a whole kind (errors.Is(err, coderr.New(coderr.Codec, ""))) or an
// exact documented sub-reason (errors.Is(err, coderr.InsufficientBytes)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Reason == "" {
		return true
	}
	return e.Reason == t.Reason
}

// New builds a taxonomy error with no cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds a taxonomy error around an underlying cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Documented codec sub-reasons (spec §4.1/§7).
var (
	InsufficientBytes = New(Codec, "InsufficientBytes")
	InvalidUtf8       = New(Codec, "InvalidUtf8")
	InvalidBoolean    = New(Codec, "InvalidBoolean")
	LengthOverflow    = New(Codec, "LengthOverflow")
)

// Documented protocol/handshake sub-reasons.
var (
	UnknownPacket   = New(Protocol, "UnknownPacket")
	ProtocolError   = New(Protocol, "ProtocolError")
	EncryptionError = New(Encryption, "EncryptionError")
)

// OfKind reports whether err (or something it wraps) is a *Error of kind k.
func OfKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
