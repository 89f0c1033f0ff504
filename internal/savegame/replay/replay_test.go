package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/shawndeggans/space-fortress/internal/platform/errors"
	"github.com/shawndeggans/space-fortress/internal/savegame/event"
	"github.com/shawndeggans/space-fortress/internal/savegame/storage"
)

// fakeEventStore serves events from memory and counts reads so tests can
// observe how much of the log a rebuild touched.
type fakeEventStore struct {
	events    map[string][]event.Event
	listCalls int
	readSeqs  []uint64
}

func (f *fakeEventStore) ListEvents(_ context.Context, streamID string, afterSeq uint64, limit int) ([]event.Event, error) {
	f.listCalls++
	stream, ok := f.events[streamID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var page []event.Event
	for _, evt := range stream {
		if evt.Seq <= afterSeq {
			continue
		}
		page = append(page, evt)
		f.readSeqs = append(f.readSeqs, evt.Seq)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type fakeSnapshotStore struct {
	snapshots []storage.Snapshot
}

func (f *fakeSnapshotStore) LatestSnapshotAtOrBelow(_ context.Context, streamID string, maxSeq uint64) (storage.Snapshot, error) {
	var best storage.Snapshot
	found := false
	for _, snapshot := range f.snapshots {
		if snapshot.StreamID != streamID {
			continue
		}
		if maxSeq > 0 && snapshot.Seq > maxSeq {
			continue
		}
		if !found || snapshot.Seq > best.Seq {
			best = snapshot
			found = true
		}
	}
	if !found {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return best, nil
}

// scoreReducer folds score.set and score.added events. The two types do not
// commute, which makes fold order observable.
type scoreReducer struct{}

type scoreState struct {
	Score int `json:"score"`
}

type scorePayload struct {
	Score  int `json:"score"`
	Points int `json:"points"`
}

func (scoreReducer) Zero() any { return scoreState{} }

func (scoreReducer) Apply(state any, evt event.Event) (any, error) {
	current := state.(scoreState)
	var payload scorePayload
	if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
		return nil, err
	}
	switch evt.Type {
	case event.TypeScoreSet:
		current.Score = payload.Score
	case event.TypeScoreAdded:
		current.Score += payload.Points
	default:
		return nil, fmt.Errorf("unexpected event type %q", evt.Type)
	}
	return current, nil
}

type scoreCodec struct{}

func (scoreCodec) SchemaVersion() uint32 { return 1 }

func (scoreCodec) Encode(state any) ([]byte, error) { return json.Marshal(state.(scoreState)) }

func (scoreCodec) Decode(blob []byte) (any, error) {
	var state scoreState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	return state, nil
}

func scoreEvent(t *testing.T, streamID string, seq uint64, typ event.Type, payload scorePayload) event.Event {
	t.Helper()
	encoded, err := event.MarshalPayload(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{StreamID: streamID, Seq: seq, Type: typ, Payload: encoded}
}

func TestRebuildFoldsInSequenceOrder(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 5}),
			scoreEvent(t, "game-42", 2, event.TypeScoreAdded, scorePayload{Points: 7}),
			scoreEvent(t, "game-42", 3, event.TypeScoreSet, scorePayload{Score: 3}),
		},
	}}

	result, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "game-42", Options{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// set-after-add must win; any other order would leave a different score.
	if state := result.State.(scoreState); state.Score != 3 {
		t.Fatalf("expected final score 3, got %d", state.Score)
	}
	if result.LastSeq != 3 || result.Applied != 3 {
		t.Fatalf("expected 3 events folded to seq 3, got applied=%d last=%d", result.Applied, result.LastSeq)
	}
	if result.SeededFrom != 0 {
		t.Fatalf("expected zero-state fold, got seeded from %d", result.SeededFrom)
	}
}

func TestRebuildHonorsUntilSeq(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 5}),
			scoreEvent(t, "game-42", 2, event.TypeScoreSet, scorePayload{Score: 100}),
		},
	}}

	result, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "game-42", Options{UntilSeq: 1})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if state := result.State.(scoreState); state.Score != 5 {
		t.Fatalf("expected point-in-time score 5, got %d", state.Score)
	}
	if result.LastSeq != 1 {
		t.Fatalf("expected fold to stop at seq 1, got %d", result.LastSeq)
	}
}

func TestRebuildSeedsFromSnapshot(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 1}),
			scoreEvent(t, "game-42", 2, event.TypeScoreAdded, scorePayload{Points: 2}),
			scoreEvent(t, "game-42", 3, event.TypeScoreAdded, scorePayload{Points: 3}),
			scoreEvent(t, "game-42", 4, event.TypeScoreAdded, scorePayload{Points: 4}),
		},
	}}
	snapshots := &fakeSnapshotStore{snapshots: []storage.Snapshot{
		{StreamID: "game-42", Seq: 3, State: []byte(`{"score":6}`), SchemaVersion: 1},
	}}

	result, err := Rebuild(context.Background(), store, snapshots, scoreReducer{}, "game-42", Options{Codec: scoreCodec{}})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if state := result.State.(scoreState); state.Score != 10 {
		t.Fatalf("expected score 10, got %d", state.Score)
	}
	if result.SeededFrom != 3 || result.Applied != 1 {
		t.Fatalf("expected seed at 3 and one folded event, got seeded=%d applied=%d", result.SeededFrom, result.Applied)
	}
	// Only the event past the snapshot may be read.
	for _, seq := range store.readSeqs {
		if seq <= 3 {
			t.Fatalf("event %d before the snapshot was re-read", seq)
		}
	}
}

func TestRebuildSnapshotTransparency(t *testing.T) {
	events := []event.Event{
		scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 5}),
		scoreEvent(t, "game-42", 2, event.TypeScoreSet, scorePayload{Score: 2}),
		scoreEvent(t, "game-42", 3, event.TypeScoreAdded, scorePayload{Points: 8}),
	}

	bare, err := Rebuild(context.Background(),
		&fakeEventStore{events: map[string][]event.Event{"game-42": events}},
		nil, scoreReducer{}, "game-42", Options{})
	if err != nil {
		t.Fatalf("rebuild without snapshot: %v", err)
	}

	seeded, err := Rebuild(context.Background(),
		&fakeEventStore{events: map[string][]event.Event{"game-42": events}},
		&fakeSnapshotStore{snapshots: []storage.Snapshot{
			{StreamID: "game-42", Seq: 2, State: []byte(`{"score":2}`), SchemaVersion: 1},
		}},
		scoreReducer{}, "game-42", Options{Codec: scoreCodec{}})
	if err != nil {
		t.Fatalf("rebuild with snapshot: %v", err)
	}

	if bare.State.(scoreState) != seeded.State.(scoreState) {
		t.Fatalf("snapshot must not change the result: bare=%+v seeded=%+v", bare.State, seeded.State)
	}
}

func TestRebuildIgnoresSnapshotWithStaleSchemaVersion(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 1}),
			scoreEvent(t, "game-42", 2, event.TypeScoreAdded, scorePayload{Points: 2}),
		},
	}}
	// The blob unmarshals cleanly under the current codec but was written by
	// an older state schema; seeding from it would poison the fold.
	snapshots := &fakeSnapshotStore{snapshots: []storage.Snapshot{
		{StreamID: "game-42", Seq: 2, State: []byte(`{"score":999}`), SchemaVersion: 7},
	}}

	result, err := Rebuild(context.Background(), store, snapshots, scoreReducer{}, "game-42", Options{Codec: scoreCodec{}})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.SeededFrom != 0 {
		t.Fatalf("expected stale-schema snapshot to be ignored, seeded from %d", result.SeededFrom)
	}
	if result.Applied != 2 {
		t.Fatalf("expected full fold of 2 events, got %d", result.Applied)
	}
	if state := result.State.(scoreState); state.Score != 3 {
		t.Fatalf("expected score 3 from the full log, got %d", state.Score)
	}
}

func TestRebuildIgnoresSnapshotBeyondUntilSeq(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 1}),
			scoreEvent(t, "game-42", 2, event.TypeScoreAdded, scorePayload{Points: 2}),
			scoreEvent(t, "game-42", 3, event.TypeScoreSet, scorePayload{Score: 99}),
		},
	}}
	snapshots := &fakeSnapshotStore{snapshots: []storage.Snapshot{
		{StreamID: "game-42", Seq: 3, State: []byte(`{"score":99}`), SchemaVersion: 1},
	}}

	result, err := Rebuild(context.Background(), store, snapshots, scoreReducer{}, "game-42", Options{UntilSeq: 2, Codec: scoreCodec{}})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if state := result.State.(scoreState); state.Score != 3 {
		t.Fatalf("expected point-in-time score 3, got %d", state.Score)
	}
}

func TestRebuildDiscardsStateOnReducerError(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 5}),
			{StreamID: "game-42", Seq: 2, Type: event.TypeFortressUpgraded, Payload: []byte(`{"v":1,"data":{}}`)},
		},
	}}

	result, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "game-42", Options{})
	if err == nil {
		t.Fatal("expected reducer rejection to fail the rebuild")
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeReplayFailed, "")) {
		t.Fatalf("expected REPLAY_FAILED code, got %v", err)
	}
	if result.State != nil {
		t.Fatal("expected partially folded state to be discarded")
	}
}

func TestRebuildDetectsSequenceGap(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{
		"game-42": {
			scoreEvent(t, "game-42", 1, event.TypeScoreAdded, scorePayload{Points: 5}),
			scoreEvent(t, "game-42", 3, event.TypeScoreAdded, scorePayload{Points: 5}),
		},
	}}

	_, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "game-42", Options{})
	if !errors.Is(err, apperrors.New(apperrors.CodeSequenceGap, "")) {
		t.Fatalf("expected SEQUENCE_GAP code, got %v", err)
	}
}

func TestRebuildUnknownStreamPropagatesNotFound(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{}}

	_, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "never-created", Options{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRebuildFailsOnCorruptSnapshot(t *testing.T) {
	store := &fakeEventStore{events: map[string][]event.Event{"game-42": {}}}
	snapshots := &fakeSnapshotStore{snapshots: []storage.Snapshot{
		{StreamID: "game-42", Seq: 2, State: []byte(`not json`), SchemaVersion: 1},
	}}

	_, err := Rebuild(context.Background(), store, snapshots, scoreReducer{}, "game-42", Options{Codec: scoreCodec{}})
	if !errors.Is(err, apperrors.New(apperrors.CodeReplayFailed, "")) {
		t.Fatalf("expected REPLAY_FAILED for corrupt snapshot, got %v", err)
	}
}

func TestRebuildValidatesArguments(t *testing.T) {
	if _, err := Rebuild(context.Background(), nil, nil, scoreReducer{}, "game-42", Options{}); !errors.Is(err, ErrEventStoreRequired) {
		t.Fatalf("expected event store requirement, got %v", err)
	}
	store := &fakeEventStore{events: map[string][]event.Event{}}
	if _, err := Rebuild(context.Background(), store, nil, nil, "game-42", Options{}); !errors.Is(err, ErrReducerRequired) {
		t.Fatalf("expected reducer requirement, got %v", err)
	}
	if _, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "  ", Options{}); !errors.Is(err, ErrStreamIDRequired) {
		t.Fatalf("expected stream id requirement, got %v", err)
	}
}

func TestRebuildPagesThroughLongStreams(t *testing.T) {
	var events []event.Event
	for seq := uint64(1); seq <= 10; seq++ {
		events = append(events, scoreEvent(t, "game-long", seq, event.TypeScoreAdded, scorePayload{Points: 1}))
	}
	store := &fakeEventStore{events: map[string][]event.Event{"game-long": events}}

	result, err := Rebuild(context.Background(), store, nil, scoreReducer{}, "game-long", Options{PageSize: 3})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if state := result.State.(scoreState); state.Score != 10 {
		t.Fatalf("expected score 10, got %d", state.Score)
	}
	if store.listCalls < 4 {
		t.Fatalf("expected paged reads, got %d list calls", store.listCalls)
	}
}
