// Package persistence defines the narrow storage adapter [PERSISTENCE]
// the core depends on: a binary blob namespace, a settings namespace, a
// multimap namespace, and append-only log sinks. Deliberately not a
// concrete SQL-backed implementation - spec §1 excludes the concrete data
// provider from core scope - this mirrors the interface-narrowing style of
// the teacher's PlayerPersistenceService without carrying over its
// pgx/Postgres implementation.
package persistence

import "context"

// Adapter is the full external storage surface the core calls into. A
// production deployment supplies its own implementation (SQL, key-value
// store, flat files); Memory below is a reference implementation used by
// tests and for running the server without external storage configured.
type Adapter interface {
	// GetBinary fetches a named blob, returning (nil, false, nil) on a
	// clean miss.
	GetBinary(ctx context.Context, namespace, key string) (data []byte, found bool, err error)
	// SaveBinary stores or overwrites a named blob.
	SaveBinary(ctx context.Context, namespace, key string, data []byte) error
	// DeleteBinary removes a named blob. Deleting an absent key is not an
	// error.
	DeleteBinary(ctx context.Context, namespace, key string) error

	// GetSetting fetches a single string-valued setting.
	GetSetting(ctx context.Context, namespace, key string) (value string, found bool, err error)
	// SetSetting stores or overwrites a single string-valued setting.
	SetSetting(ctx context.Context, namespace, key, value string) error
	// DeleteSetting removes a setting. Deleting an absent key is not an
	// error.
	DeleteSetting(ctx context.Context, namespace, key string) error

	// InsertValue adds value to the set of values stored under key in a
	// multimap namespace (insertion is idempotent - inserting the same
	// value twice leaves the set unchanged).
	InsertValue(ctx context.Context, namespace, key, value string) error
	// DeleteValue removes value from the set under key, if present.
	DeleteValue(ctx context.Context, namespace, key, value string) error
	// GetValues returns every value currently stored under key.
	GetValues(ctx context.Context, namespace, key string) ([]string, error)

	// WriteLog appends a line to an operational log sink.
	WriteLog(ctx context.Context, sink, line string) error
	// WriteChatLog appends a line to the chat log sink, kept distinct
	// from WriteLog since spec §4.9 treats chat history as its own
	// append-only stream.
	WriteChatLog(ctx context.Context, channel, line string) error
}
