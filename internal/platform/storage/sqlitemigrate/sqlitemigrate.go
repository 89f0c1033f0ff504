// Package sqlitemigrate applies versioned schema migrations to a SQLite
// database exactly once each.
//
// The host application declares an ordered migration list at startup and
// hands it to Apply together with an open database handle. Every migration
// runs inside its own transaction and is recorded in the schema_migrations
// table only when that transaction commits, so a failed step leaves the
// database at the last successfully applied version.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/shawndeggans/space-fortress/internal/platform/errors"
)

const migrationTable = "schema_migrations"

// Migration is a single versioned schema change.
type Migration struct {
	// Version orders migrations; versions are applied strictly ascending
	// and each version is applied at most once.
	Version uint32
	// Description names the change for operators and diagnostics.
	Description string
	// SQL is the schema change to execute.
	SQL string
}

// Apply executes every migration whose version exceeds the highest recorded
// version, in ascending order. Re-running with the same or a prefix of a
// previously applied list is a no-op.
func Apply(ctx context.Context, sqlDB *sql.DB, migrations []Migration) error {
	if sqlDB == nil {
		return apperrors.New(apperrors.CodeMigrationFailed, "sql db is required")
	}
	if err := validate(migrations); err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at INTEGER NOT NULL
);
`, migrationTable)
	if _, err := sqlDB.ExecContext(ctx, createSQL); err != nil {
		return apperrors.Wrap(apperrors.CodeMigrationFailed, "ensure migration table", err)
	}

	applied, err := latestVersion(ctx, sqlDB)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if uint64(migration.Version) <= applied {
			continue
		}
		if err := applyOne(ctx, sqlDB, migration); err != nil {
			return err
		}
		applied = uint64(migration.Version)
	}

	return nil
}

// LatestVersion returns the highest applied migration version, or 0 when no
// migration has been applied yet.
func LatestVersion(ctx context.Context, sqlDB *sql.DB) (uint32, error) {
	if sqlDB == nil {
		return 0, apperrors.New(apperrors.CodeMigrationFailed, "sql db is required")
	}
	version, err := latestVersion(ctx, sqlDB)
	if err != nil {
		return 0, err
	}
	return uint32(version), nil
}

func validate(migrations []Migration) error {
	var prev uint32
	for i, migration := range migrations {
		if migration.Version == 0 {
			return apperrors.WithMetadata(apperrors.CodeMigrationVersionConflict,
				"migration version must be greater than zero",
				map[string]string{"index": strconv.Itoa(i)})
		}
		if migration.Version <= prev {
			return apperrors.WithMetadata(apperrors.CodeMigrationVersionConflict,
				"migration versions must be strictly ascending",
				map[string]string{"version": strconv.FormatUint(uint64(migration.Version), 10)})
		}
		if strings.TrimSpace(migration.SQL) == "" {
			return apperrors.WithMetadata(apperrors.CodeMigrationVersionConflict,
				"migration sql is empty",
				map[string]string{"version": strconv.FormatUint(uint64(migration.Version), 10)})
		}
		prev = migration.Version
	}
	return nil
}

func latestVersion(ctx context.Context, sqlDB *sql.DB) (uint64, error) {
	var version sql.NullInt64
	row := sqlDB.QueryRowContext(ctx, "SELECT MAX(version) FROM "+migrationTable)
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		// The migration table may not exist yet on a fresh database.
		if isMissingTableError(err) {
			return 0, nil
		}
		return 0, apperrors.Wrap(apperrors.CodeMigrationFailed, "read latest migration version", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return uint64(version.Int64), nil
}

func applyOne(ctx context.Context, sqlDB *sql.DB, migration Migration) error {
	meta := map[string]string{
		"version":     strconv.FormatUint(uint64(migration.Version), 10),
		"description": migration.Description,
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeMigrationFailed, "begin migration transaction", meta, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeMigrationFailed, "exec migration", meta, err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (version, description, applied_at) VALUES (?, ?, ?)", migrationTable),
		migration.Version,
		migration.Description,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeMigrationFailed, "record migration", meta, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeMigrationFailed, "commit migration", meta, err)
	}

	return nil
}

func isMissingTableError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}
