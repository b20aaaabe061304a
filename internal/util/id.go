package util

import "github.com/google/uuid"

// NewID returns a fresh random (version 4) uuid.
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses a textual uuid, returning the zero value and an error on
// malformed input.
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
