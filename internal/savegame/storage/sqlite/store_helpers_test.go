package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shawndeggans/space-fortress/internal/platform/storage/sqlitemigrate"
	"github.com/shawndeggans/space-fortress/internal/savegame/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "save.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	if err := sqlitemigrate.Apply(context.Background(), store.DB(), Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store
}

func mustAppend(t *testing.T, store *Store, streamID string, expectedSeq uint64, typ event.Type, payload string) event.Event {
	t.Helper()
	evt, err := store.Append(context.Background(), streamID, expectedSeq, typ, []byte(payload))
	if err != nil {
		t.Fatalf("append seq %d: %v", expectedSeq, err)
	}
	return evt
}
