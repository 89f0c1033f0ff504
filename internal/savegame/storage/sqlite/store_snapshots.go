package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/shawndeggans/space-fortress/internal/platform/errors"
	"github.com/shawndeggans/space-fortress/internal/platform/id"
	"github.com/shawndeggans/space-fortress/internal/savegame/storage"
)

const snapshotColumns = "id, stream_id, seq, state, schema_version, created_at"

// SaveSnapshot stores a snapshot. The call is a no-op when a snapshot
// already exists at a sequence >= snapshot.Seq: snapshots never move
// backward, and older rows are superseded rather than overwritten.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snapshot.StreamID) == "" {
		return apperrors.New(apperrors.CodeStreamIDEmpty, "stream id is required")
	}
	if snapshot.Seq == 0 {
		return apperrors.New(apperrors.CodeSequenceInvalid, "snapshot sequence must be greater than zero")
	}
	if snapshot.ID == "" {
		generated, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate snapshot id: %w", err)
		}
		snapshot.ID = generated
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	row := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM snapshots WHERE stream_id = ?", snapshot.StreamID)
	if err := row.Scan(&latest); err != nil {
		return fmt.Errorf("read latest snapshot seq: %w", err)
	}
	if latest.Valid && uint64(latest.Int64) >= snapshot.Seq {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots ("+snapshotColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		snapshot.ID,
		snapshot.StreamID,
		int64(snapshot.Seq),
		snapshot.State,
		int64(snapshot.SchemaVersion),
		toMillis(snapshot.CreatedAt),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestSnapshot returns the snapshot with the highest sequence for the stream.
func (s *Store) LatestSnapshot(ctx context.Context, streamID string) (storage.Snapshot, error) {
	return s.LatestSnapshotAtOrBelow(ctx, streamID, 0)
}

// LatestSnapshotAtOrBelow returns the highest-sequence snapshot with
// seq <= maxSeq. maxSeq 0 means no bound.
func (s *Store) LatestSnapshotAtOrBelow(ctx context.Context, streamID string, maxSeq uint64) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return storage.Snapshot{}, apperrors.New(apperrors.CodeStreamIDEmpty, "stream id is required")
	}

	query := "SELECT " + snapshotColumns + " FROM snapshots WHERE stream_id = ?"
	args := []any{streamID}
	if maxSeq > 0 {
		query += " AND seq <= ?"
		args = append(args, int64(maxSeq))
	}
	query += " ORDER BY seq DESC LIMIT 1"

	row := s.sqlDB.QueryRowContext(ctx, query, args...)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snapshot, nil
}

// ListSnapshots returns up to limit snapshots ordered by sequence descending.
func (s *Store) ListSnapshots(ctx context.Context, streamID string, limit int) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return nil, apperrors.New(apperrors.CodeStreamIDEmpty, "stream id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE stream_id = ? ORDER BY seq DESC LIMIT ?",
		streamID, int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []storage.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snapshots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (storage.Snapshot, error) {
	var (
		snapshot      storage.Snapshot
		seq           int64
		schemaVersion int64
		createdAt     int64
	)
	if err := row.Scan(
		&snapshot.ID,
		&snapshot.StreamID,
		&seq,
		&snapshot.State,
		&schemaVersion,
		&createdAt,
	); err != nil {
		return storage.Snapshot{}, err
	}
	snapshot.Seq = uint64(seq)
	snapshot.SchemaVersion = uint32(schemaVersion)
	snapshot.CreatedAt = fromMillis(createdAt)
	return snapshot, nil
}
