// Package errors provides structured error handling for the save store.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Migration errors
	CodeMigrationFailed          Code = "MIGRATION_FAILED"
	CodeMigrationVersionConflict Code = "MIGRATION_VERSION_CONFLICT"

	// Event log errors
	CodeStreamIDEmpty       Code = "STREAM_ID_EMPTY"
	CodeEventTypeEmpty      Code = "EVENT_TYPE_EMPTY"
	CodeSequenceInvalid     Code = "SEQUENCE_INVALID"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"

	// Replay errors
	CodeReplayFailed Code = "REPLAY_FAILED"
	CodeSequenceGap  Code = "SEQUENCE_GAP"

	// Integrity errors
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Retryable reports whether the caller may retry the failed operation after
// refreshing its view of the stream. Only optimistic-concurrency races
// qualify; everything else needs a caller decision first.
func (c Code) Retryable() bool {
	return c == CodeConcurrencyConflict
}
