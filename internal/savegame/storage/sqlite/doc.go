// Package sqlite implements the savegame storage interfaces on a single
// local SQLite file.
//
// The host opens the store once at startup, runs the versioned migrations to
// completion, and only then hands the store to the event log, snapshot, and
// replay layers. Append is the single serialization point per stream: the
// optimistic-concurrency check rides on a guarded stream_heads write inside
// the same transaction as the event insert.
package sqlite
