package sqlite

import "github.com/shawndeggans/space-fortress/internal/platform/storage/sqlitemigrate"

// Migrations is the ordered schema history for the save database. The host
// hands this list to the migrator at startup, before any store operation.
//
// Never edit a shipped entry; append a new version instead.
func Migrations() []sqlitemigrate.Migration {
	return []sqlitemigrate.Migration{
		{
			Version:     1,
			Description: "create event store tables",
			SQL: `
CREATE TABLE events (
    stream_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB NOT NULL,
    recorded_at INTEGER NOT NULL,
    event_hash TEXT NOT NULL,
    prev_hash TEXT NOT NULL DEFAULT '',
    chain_hash TEXT NOT NULL,
    PRIMARY KEY (stream_id, seq)
);

CREATE INDEX idx_events_stream_type ON events(stream_id, event_type);

CREATE TABLE stream_heads (
    stream_id TEXT PRIMARY KEY,
    latest_seq INTEGER NOT NULL
);
`,
		},
		{
			Version:     2,
			Description: "create snapshot tables",
			SQL: `
CREATE TABLE snapshots (
    id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    state BLOB NOT NULL,
    schema_version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (stream_id, seq)
);
`,
		},
	}
}
