package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/shawndeggans/space-fortress/internal/platform/errors"
	"github.com/shawndeggans/space-fortress/internal/savegame/event"
	"github.com/shawndeggans/space-fortress/internal/savegame/storage"
)

const eventColumns = "stream_id, seq, event_type, payload, recorded_at, event_hash, prev_hash, chain_hash"

// Append atomically appends one event at expectedSeq.
//
// The guarded stream_heads write is the serialization point per stream: the
// optimistic check and the head advance happen in one statement inside the
// same transaction as the event insert, so two racing appends for the same
// expected sequence cannot both commit.
func (s *Store) Append(ctx context.Context, streamID string, expectedSeq uint64, typ event.Type, payload []byte) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return event.Event{}, apperrors.New(apperrors.CodeStreamIDEmpty, "stream id is required")
	}
	if !typ.IsValid() {
		return event.Event{}, apperrors.New(apperrors.CodeEventTypeEmpty, "event type is required")
	}
	if expectedSeq == 0 {
		return event.Event{}, apperrors.New(apperrors.CodeSequenceInvalid, "expected sequence must start at 1")
	}
	if payload == nil {
		payload = []byte(`{}`)
	}

	evt := event.Event{
		StreamID:   streamID,
		Seq:        expectedSeq,
		Type:       typ,
		Payload:    payload,
		RecordedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := advanceStreamHead(ctx, tx, streamID, expectedSeq); err != nil {
		return event.Event{}, err
	}

	prevHash := ""
	if expectedSeq > 1 {
		row := tx.QueryRowContext(ctx,
			"SELECT chain_hash FROM events WHERE stream_id = ? AND seq = ?",
			streamID, expectedSeq-1,
		)
		if err := row.Scan(&prevHash); err != nil {
			return event.Event{}, fmt.Errorf("load previous event: %w", err)
		}
	}

	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash

	chainHash, err := event.ChainHash(evt, prevHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	evt.PrevHash = prevHash
	evt.ChainHash = chainHash

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		evt.StreamID,
		int64(evt.Seq),
		string(evt.Type),
		evt.Payload,
		toMillis(evt.RecordedAt),
		evt.Hash,
		evt.PrevHash,
		evt.ChainHash,
	); err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit: %w", err)
	}

	return evt, nil
}

// advanceStreamHead claims expectedSeq for the caller or fails with
// ErrConcurrencyConflict without writing.
func advanceStreamHead(ctx context.Context, tx *sql.Tx, streamID string, expectedSeq uint64) error {
	var result sql.Result
	var err error
	if expectedSeq == 1 {
		result, err = tx.ExecContext(ctx,
			"INSERT INTO stream_heads (stream_id, latest_seq) VALUES (?, 1) ON CONFLICT(stream_id) DO NOTHING",
			streamID,
		)
	} else {
		result, err = tx.ExecContext(ctx,
			"UPDATE stream_heads SET latest_seq = ? WHERE stream_id = ? AND latest_seq = ?",
			int64(expectedSeq), streamID, int64(expectedSeq-1),
		)
	}
	if err != nil {
		return fmt.Errorf("advance stream head: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance stream head rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	latest, err := streamHead(ctx, tx, streamID)
	if err != nil {
		return err
	}
	return apperrors.WithMetadata(apperrors.CodeConcurrencyConflict,
		"expected sequence does not match stream head",
		map[string]string{
			"stream_id":    streamID,
			"expected_seq": strconv.FormatUint(expectedSeq, 10),
			"latest_seq":   strconv.FormatUint(latest, 10),
		})
}

func streamHead(ctx context.Context, tx *sql.Tx, streamID string) (uint64, error) {
	var latest int64
	row := tx.QueryRowContext(ctx, "SELECT latest_seq FROM stream_heads WHERE stream_id = ?", streamID)
	if err := row.Scan(&latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	return uint64(latest), nil
}

// ReadRange returns events with fromSeq <= seq <= toSeq in ascending order.
// toSeq 0 means the end of the stream. Each call re-reads from storage, so
// iteration is restartable.
func (s *Store) ReadRange(ctx context.Context, streamID string, fromSeq, toSeq uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return nil, apperrors.New(apperrors.CodeStreamIDEmpty, "stream id is required")
	}
	if toSeq > 0 && toSeq < fromSeq {
		return nil, apperrors.New(apperrors.CodeSequenceInvalid, "to sequence precedes from sequence")
	}
	if err := s.requireStream(ctx, streamID); err != nil {
		return nil, err
	}

	query := "SELECT " + eventColumns + " FROM events WHERE stream_id = ? AND seq >= ?"
	args := []any{streamID, int64(fromSeq)}
	if toSeq > 0 {
		query += " AND seq <= ?"
		args = append(args, int64(toSeq))
	}
	query += " ORDER BY seq ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEvents returns up to limit events with seq > afterSeq in ascending order.
func (s *Store) ListEvents(ctx context.Context, streamID string, afterSeq uint64, limit int) ([]event.Event, error) {
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
	if err := s.requireStream(ctx, streamID); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE stream_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?",
		streamID, int64(afterSeq), int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest sequence in the stream, 0 when the stream
// has no events.
func (s *Store) LatestSeq(ctx context.Context, streamID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return 0, apperrors.New(apperrors.CodeStreamIDEmpty, "stream id is required")
	}

	var latest int64
	row := s.sqlDB.QueryRowContext(ctx, "SELECT latest_seq FROM stream_heads WHERE stream_id = ?", streamID)
	if err := row.Scan(&latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get latest seq: %w", err)
	}
	return uint64(latest), nil
}

// ListStreamIDs returns all stream ids in lexical order.
func (s *Store) ListStreamIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, "SELECT stream_id FROM stream_heads ORDER BY stream_id")
	if err != nil {
		return nil, fmt.Errorf("list stream ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream ids: %w", err)
	}
	return ids, nil
}

// VerifyIntegrity walks every stream and checks sequence contiguity, content
// hashes, and chain linkage. Events are read in pages so large logs do not
// load into memory at once.
func (s *Store) VerifyIntegrity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	streamIDs, err := s.ListStreamIDs(ctx)
	if err != nil {
		return err
	}
	for _, streamID := range streamIDs {
		if err := s.verifyStream(ctx, streamID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) verifyStream(ctx context.Context, streamID string) error {
	var lastSeq uint64
	prevChainHash := ""
	for {
		events, err := s.ListEvents(ctx, streamID, lastSeq, 200)
		if err != nil {
			return fmt.Errorf("list events stream_id=%s: %w", streamID, err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			meta := map[string]string{
				"stream_id": streamID,
				"seq":       strconv.FormatUint(evt.Seq, 10),
			}
			if evt.Seq != lastSeq+1 {
				return apperrors.WithMetadata(apperrors.CodeIntegrityViolation, "event sequence gap", meta)
			}
			if evt.Seq == 1 && evt.PrevHash != "" {
				return apperrors.WithMetadata(apperrors.CodeIntegrityViolation, "first event prev hash must be empty", meta)
			}
			if evt.Seq > 1 && evt.PrevHash != prevChainHash {
				return apperrors.WithMetadata(apperrors.CodeIntegrityViolation, "prev hash mismatch", meta)
			}

			hash, err := event.EventHash(evt)
			if err != nil {
				return fmt.Errorf("compute event hash stream_id=%s seq=%d: %w", streamID, evt.Seq, err)
			}
			if hash != evt.Hash {
				return apperrors.WithMetadata(apperrors.CodeIntegrityViolation, "event hash mismatch", meta)
			}

			chainHash, err := event.ChainHash(evt, prevChainHash)
			if err != nil {
				return fmt.Errorf("compute chain hash stream_id=%s seq=%d: %w", streamID, evt.Seq, err)
			}
			if chainHash != evt.ChainHash {
				return apperrors.WithMetadata(apperrors.CodeIntegrityViolation, "chain hash mismatch", meta)
			}

			prevChainHash = evt.ChainHash
			lastSeq = evt.Seq
		}
	}
}

// requireStream enforces the NotFound contract: a stream exists once its
// first event has committed and never stops existing afterwards.
func (s *Store) requireStream(ctx context.Context, streamID string) error {
	var one int
	row := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM stream_heads WHERE stream_id = ?", streamID)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check stream exists: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			evt        event.Event
			seq        int64
			typ        string
			recordedAt int64
		)
		if err := rows.Scan(
			&evt.StreamID,
			&seq,
			&typ,
			&evt.Payload,
			&recordedAt,
			&evt.Hash,
			&evt.PrevHash,
			&evt.ChainHash,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Seq = uint64(seq)
		evt.Type = event.Type(typ)
		evt.RecordedAt = fromMillis(recordedAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
