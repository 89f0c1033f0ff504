// Package store is the embedding surface of the save system: one handle that
// wires the migrator, event log, snapshot store, and replay engine together.
//
// Hosts open the store once at startup and share the handle; all operations
// are safe for concurrent use. Game logic stays outside: reducers and state
// codecs are supplied by the caller, the store only persists and folds.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shawndeggans/space-fortress/internal/platform/storage/sqlitemigrate"
	"github.com/shawndeggans/space-fortress/internal/savegame/event"
	"github.com/shawndeggans/space-fortress/internal/savegame/replay"
	"github.com/shawndeggans/space-fortress/internal/savegame/storage"
	"github.com/shawndeggans/space-fortress/internal/savegame/storage/sqlite"
)

const tracerName = "savegame/store"

// integrityVerifier is implemented by backends that can audit their hash
// chains. The facade exposes it when present.
type integrityVerifier interface {
	VerifyIntegrity(ctx context.Context) error
}

// Store is the save system facade.
type Store struct {
	backing storage.Store
	db      *sqlite.Store
}

// Open opens the SQLite save database at path, runs all pending schema
// migrations, and returns a ready store. The returned store owns the
// database handle; callers must Close it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open save database: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db.DB(), sqlite.Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate save database: %w", err)
	}
	return &Store{backing: db, db: db}, nil
}

// New wraps an already-migrated storage backend. Used by hosts that manage
// the database handle themselves and by tests.
func New(backing storage.Store) *Store {
	return &Store{backing: backing}
}

// Close releases the underlying database handle, if the store owns one.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append atomically appends one event at expectedSeq. The write succeeds only
// if the stream head is exactly expectedSeq-1; otherwise it fails with
// storage.ErrConcurrencyConflict and writes nothing.
func (s *Store) Append(ctx context.Context, streamID string, expectedSeq uint64, typ event.Type, payload []byte) (event.Event, error) {
	ctx, span := startSpan(ctx, "Store.Append",
		attribute.String("stream_id", streamID),
		attribute.String("event_type", string(typ)),
		attribute.Int64("expected_seq", clampSeq(expectedSeq)),
	)
	defer span.End()

	evt, err := s.backing.Append(ctx, streamID, expectedSeq, typ, payload)
	if err != nil {
		span.RecordError(err)
		return event.Event{}, err
	}
	return evt, nil
}

// ReadRange returns events with fromSeq <= seq <= toSeq in ascending order.
// toSeq 0 means the end of the stream.
func (s *Store) ReadRange(ctx context.Context, streamID string, fromSeq, toSeq uint64) ([]event.Event, error) {
	ctx, span := startSpan(ctx, "Store.ReadRange",
		attribute.String("stream_id", streamID),
	)
	defer span.End()

	events, err := s.backing.ReadRange(ctx, streamID, fromSeq, toSeq)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return events, nil
}

// ListEvents returns up to limit events with seq > afterSeq in ascending
// order.
func (s *Store) ListEvents(ctx context.Context, streamID string, afterSeq uint64, limit int) ([]event.Event, error) {
	return s.backing.ListEvents(ctx, streamID, afterSeq, limit)
}

// LatestSeq returns the highest sequence in the stream, 0 when the stream has
// no events.
func (s *Store) LatestSeq(ctx context.Context, streamID string) (uint64, error) {
	return s.backing.LatestSeq(ctx, streamID)
}

// ListStreamIDs returns all stream ids in lexical order.
func (s *Store) ListStreamIDs(ctx context.Context) ([]string, error) {
	return s.backing.ListStreamIDs(ctx)
}

// LatestSnapshot returns the newest snapshot for the stream. Fails with
// storage.ErrNotFound when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, streamID string) (storage.Snapshot, error) {
	return s.backing.LatestSnapshot(ctx, streamID)
}

// ListSnapshots returns up to limit snapshots ordered by sequence descending.
func (s *Store) ListSnapshots(ctx context.Context, streamID string, limit int) ([]storage.Snapshot, error) {
	return s.backing.ListSnapshots(ctx, streamID, limit)
}

// Rebuild folds the stream through the reducer and returns the final state.
// When options.Codec is set the fold is seeded from the newest qualifying
// snapshot; the result is identical either way.
func (s *Store) Rebuild(ctx context.Context, streamID string, reducer replay.Reducer, options replay.Options) (replay.Result, error) {
	ctx, span := startSpan(ctx, "Store.Rebuild",
		attribute.String("stream_id", streamID),
		attribute.Int64("until_seq", clampSeq(options.UntilSeq)),
	)
	defer span.End()

	result, err := replay.Rebuild(ctx, s.backing, s.backing, reducer, streamID, options)
	if err != nil {
		span.RecordError(err)
		return replay.Result{}, err
	}
	span.SetAttributes(
		attribute.Int("events_applied", result.Applied),
		attribute.Int64("last_seq", clampSeq(result.LastSeq)),
	)
	return result, nil
}

// SnapshotNow rebuilds the stream to its current head and persists the folded
// state as a snapshot. The snapshot is an optimization only; failures here
// never affect the event log.
func (s *Store) SnapshotNow(ctx context.Context, streamID string, reducer replay.Reducer, codec replay.StateCodec) (storage.Snapshot, error) {
	ctx, span := startSpan(ctx, "Store.SnapshotNow",
		attribute.String("stream_id", streamID),
	)
	defer span.End()

	if codec == nil {
		return storage.Snapshot{}, fmt.Errorf("state codec is required")
	}

	result, err := replay.Rebuild(ctx, s.backing, s.backing, reducer, streamID, replay.Options{Codec: codec})
	if err != nil {
		span.RecordError(err)
		return storage.Snapshot{}, err
	}
	if result.LastSeq == 0 {
		return storage.Snapshot{}, fmt.Errorf("stream %q has no events to snapshot", streamID)
	}

	state, err := codec.Encode(result.State)
	if err != nil {
		span.RecordError(err)
		return storage.Snapshot{}, fmt.Errorf("encode snapshot state for seq %s: %w",
			strconv.FormatUint(result.LastSeq, 10), err)
	}

	snapshot := storage.Snapshot{
		StreamID:      strings.TrimSpace(streamID),
		Seq:           result.LastSeq,
		State:         state,
		SchemaVersion: codec.SchemaVersion(),
	}
	if err := s.backing.SaveSnapshot(ctx, snapshot); err != nil {
		span.RecordError(err)
		return storage.Snapshot{}, err
	}
	span.SetAttributes(attribute.Int64("snapshot_seq", clampSeq(snapshot.Seq)))
	return snapshot, nil
}

// VerifyIntegrity audits the event hash chains of the backing store. Backends
// without integrity support report an error rather than a false pass.
func (s *Store) VerifyIntegrity(ctx context.Context) error {
	verifier, ok := s.backing.(integrityVerifier)
	if !ok {
		return fmt.Errorf("backing store does not support integrity verification")
	}
	return verifier.VerifyIntegrity(ctx)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func clampSeq(seq uint64) int64 {
	// Span attributes are int64; sequences this large never occur in practice.
	if seq > 1<<62 {
		return 1 << 62
	}
	return int64(seq)
}
