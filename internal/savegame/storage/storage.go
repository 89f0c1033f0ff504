// Package storage defines the persistence contracts for the save store.
//
// Implementations (see the sqlite subpackage) must serialize conflicting
// writes per stream: the optimistic-concurrency check in Append has to be
// atomic with the write itself, otherwise two racing appends could both pass
// the check and claim the same sequence number.
//
// # Error Types
//
//   - ErrNotFound: the referenced stream has never existed.
//   - ErrConcurrencyConflict: the expected sequence no longer matches the
//     stream head; the caller should re-read the latest sequence and decide
//     whether retrying is semantically valid.
package storage

import (
	"context"
	"time"

	apperrors "github.com/shawndeggans/space-fortress/internal/platform/errors"
	"github.com/shawndeggans/space-fortress/internal/savegame/event"
)

// ErrNotFound indicates the referenced stream has never existed.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "stream not found")

// ErrConcurrencyConflict indicates an optimistic append lost the race: the
// stream head moved past the caller's expected sequence. Recoverable; retry
// policy belongs to the caller.
var ErrConcurrencyConflict = apperrors.New(apperrors.CodeConcurrencyConflict, "expected sequence does not match stream head")

// Snapshot is a materialized checkpoint of folded state at a sequence.
// Snapshots are an optimization only; events remain the source of truth and
// replay must produce identical results with or without them.
type Snapshot struct {
	// ID identifies the snapshot row for debugging.
	ID string
	// StreamID is the save stream the snapshot belongs to.
	StreamID string
	// Seq is the last event sequence folded into State.
	Seq uint64
	// State holds the encoded folded state.
	State []byte
	// SchemaVersion records the state blob format version.
	SchemaVersion uint32
	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time
}

// EventStore owns the append-only event log partitioned by stream.
type EventStore interface {
	// Append atomically appends one event at expectedSeq. The write succeeds
	// only if the stream head is exactly expectedSeq-1; otherwise it fails
	// with ErrConcurrencyConflict and writes nothing.
	Append(ctx context.Context, streamID string, expectedSeq uint64, typ event.Type, payload []byte) (event.Event, error)
	// ReadRange returns events with fromSeq <= seq <= toSeq in ascending
	// order. toSeq 0 means the end of the stream. Fails with ErrNotFound
	// only when the stream has never existed; an empty range on an existing
	// stream returns no events and no error.
	ReadRange(ctx context.Context, streamID string, fromSeq, toSeq uint64) ([]event.Event, error)
	// ListEvents returns up to limit events with seq > afterSeq in ascending
	// order. Fails with ErrNotFound when the stream has never existed.
	ListEvents(ctx context.Context, streamID string, afterSeq uint64, limit int) ([]event.Event, error)
	// LatestSeq returns the highest sequence in the stream, 0 when the
	// stream has no events.
	LatestSeq(ctx context.Context, streamID string) (uint64, error)
	// ListStreamIDs returns all stream ids in lexical order.
	ListStreamIDs(ctx context.Context) ([]string, error)
}

// SnapshotStore owns materialized replay checkpoints. Newer snapshots
// supersede older ones; older rows are retained for debugging.
type SnapshotStore interface {
	// SaveSnapshot stores a snapshot. When a snapshot already exists at a
	// sequence >= snapshot.Seq the call is a no-op: snapshots never move
	// backward.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	// LatestSnapshot returns the snapshot with the highest sequence for the
	// stream. Fails with ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context, streamID string) (Snapshot, error)
	// LatestSnapshotAtOrBelow returns the highest-sequence snapshot with
	// seq <= maxSeq. maxSeq 0 means no bound. Fails with ErrNotFound when
	// none qualifies.
	LatestSnapshotAtOrBelow(ctx context.Context, streamID string, maxSeq uint64) (Snapshot, error)
	// ListSnapshots returns up to limit snapshots ordered by sequence
	// descending.
	ListSnapshots(ctx context.Context, streamID string, limit int) ([]Snapshot, error)
}

// Store aggregates the event log and snapshot store behind one handle.
type Store interface {
	EventStore
	SnapshotStore
}
