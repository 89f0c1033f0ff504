// Package replay rebuilds materialized state by folding save events through
// a caller-supplied reducer, optionally seeded from a snapshot.
package replay

import (
	"context"
	"errors"
	"strconv"
	"strings"

	apperrors "github.com/shawndeggans/space-fortress/internal/platform/errors"
	"github.com/shawndeggans/space-fortress/internal/savegame/event"
	"github.com/shawndeggans/space-fortress/internal/savegame/storage"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrReducerRequired indicates a missing reducer.
	ErrReducerRequired = errors.New("reducer is required")
	// ErrStreamIDRequired indicates a missing stream id.
	ErrStreamIDRequired = errors.New("stream id is required")
)

// EventStore lists events for replay.
type EventStore interface {
	ListEvents(ctx context.Context, streamID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// SnapshotStore locates checkpoints that bound replay cost.
type SnapshotStore interface {
	LatestSnapshotAtOrBelow(ctx context.Context, streamID string, maxSeq uint64) (storage.Snapshot, error)
}

// Reducer folds save events into materialized state. Reducers are pure:
// the same state and event always produce the same next state. They are
// owned by game logic; the store only invokes them during replay.
type Reducer interface {
	// Zero returns the initial state an empty stream folds from.
	Zero() any
	// Apply folds one event into state and returns the next state.
	Apply(state any, evt event.Event) (any, error)
}

// StateCodec converts reducer state to and from snapshot blobs. The codec is
// supplied by the same caller that owns the reducer.
type StateCodec interface {
	// SchemaVersion identifies the blob format written by Encode.
	SchemaVersion() uint32
	// Encode serializes state into a snapshot blob.
	Encode(state any) ([]byte, error)
	// Decode restores state from a snapshot blob.
	Decode(blob []byte) (any, error)
}

// Options configures a rebuild.
type Options struct {
	// UntilSeq bounds the fold to events with seq <= UntilSeq. 0 means fold
	// to the end of the stream.
	UntilSeq uint64
	// PageSize bounds how many events are read per storage round trip.
	PageSize int
	// Codec enables snapshot seeding. When nil the fold always starts from
	// the reducer's zero state at sequence 1; results must be identical
	// either way, snapshots are never a correctness requirement. Snapshots
	// whose schema version differs from the codec's are ignored and the
	// fold falls back to the full log.
	Codec StateCodec
}

// Result captures a completed rebuild.
type Result struct {
	// State is the final folded state.
	State any
	// LastSeq is the sequence of the last event folded (or the snapshot
	// sequence when no further events existed). 0 for an empty fold.
	LastSeq uint64
	// Applied counts events folded, excluding any snapshot seed.
	Applied int
	// SeededFrom is the snapshot sequence the fold started after, 0 when
	// replay started from the reducer's zero state.
	SeededFrom uint64
}

// Rebuild folds stream events through the reducer in ascending sequence
// order and returns the final state.
//
// Replay is all-or-nothing: when the reducer rejects an event, the partially
// folded state is discarded and a REPLAY_FAILED error identifies the
// offending sequence. The underlying event remains intact in the log for
// forensic replay.
//
// The ascending order is load-bearing: reducers may be non-commutative, so
// the fold must observe events exactly in append order. A sequence gap in
// the page stream aborts the fold rather than folding misordered state.
func Rebuild(ctx context.Context, events EventStore, snapshots SnapshotStore, reducer Reducer, streamID string, options Options) (Result, error) {
	if events == nil {
		return Result{}, ErrEventStoreRequired
	}
	if reducer == nil {
		return Result{}, ErrReducerRequired
	}
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return Result{}, ErrStreamIDRequired
	}

	state := reducer.Zero()
	var lastSeq, seededFrom uint64

	if snapshots != nil && options.Codec != nil {
		snapshot, err := snapshots.LatestSnapshotAtOrBelow(ctx, streamID, options.UntilSeq)
		switch {
		case err == nil && snapshot.SchemaVersion != options.Codec.SchemaVersion():
			// The snapshot was written under a different state schema. It may
			// still unmarshal cleanly and seed a wrong fold, so it is ignored
			// and the fold starts from the zero state.
		case err == nil:
			decoded, decodeErr := options.Codec.Decode(snapshot.State)
			if decodeErr != nil {
				// A corrupt snapshot blob is a real fault, not a cache miss;
				// surface it instead of silently replaying the full log.
				return Result{}, apperrors.WrapWithMetadata(apperrors.CodeReplayFailed,
					"decode snapshot state",
					map[string]string{
						"stream_id":    streamID,
						"snapshot_seq": strconv.FormatUint(snapshot.Seq, 10),
					}, decodeErr)
			}
			state = decoded
			lastSeq = snapshot.Seq
			seededFrom = snapshot.Seq
		case errors.Is(err, storage.ErrNotFound):
			// No usable snapshot; fold from the zero state.
		default:
			return Result{}, err
		}
	}

	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	applied := 0
	for {
		page, err := events.ListEvents(ctx, streamID, lastSeq, pageSize)
		if err != nil {
			return Result{}, err
		}
		if len(page) == 0 {
			return Result{State: state, LastSeq: lastSeq, Applied: applied, SeededFrom: seededFrom}, nil
		}
		for _, evt := range page {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return Result{State: state, LastSeq: lastSeq, Applied: applied, SeededFrom: seededFrom}, nil
			}
			if evt.Seq != lastSeq+1 {
				return Result{}, apperrors.WithMetadata(apperrors.CodeSequenceGap,
					"event sequence gap during replay",
					map[string]string{
						"stream_id": streamID,
						"expected":  strconv.FormatUint(lastSeq+1, 10),
						"got":       strconv.FormatUint(evt.Seq, 10),
					})
			}
			next, err := reducer.Apply(state, evt)
			if err != nil {
				return Result{}, apperrors.WrapWithMetadata(apperrors.CodeReplayFailed,
					"reducer rejected event",
					map[string]string{
						"stream_id":  streamID,
						"seq":        strconv.FormatUint(evt.Seq, 10),
						"event_type": string(evt.Type),
					}, err)
			}
			state = next
			lastSeq = evt.Seq
			applied++
		}
	}
}
