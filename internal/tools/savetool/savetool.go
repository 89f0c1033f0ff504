// Package savetool implements the save-database operator command: inspecting
// streams, rebuilding state, taking snapshots, and auditing event integrity.
package savetool

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shawndeggans/space-fortress/internal/fortress/state"
	"github.com/shawndeggans/space-fortress/internal/savegame/replay"
	"github.com/shawndeggans/space-fortress/internal/savegame/store"
)

const listPageSize = 200

// Config holds savetool command configuration.
type Config struct {
	DBPath      string        `env:"SPACE_FORTRESS_SAVE_DB_PATH"`
	Timeout     time.Duration `env:"SPACE_FORTRESS_SAVETOOL_TIMEOUT" envDefault:"10m"`
	StreamID    string
	AfterSeq    uint64
	UntilSeq    uint64
	Limit       int
	ListStreams bool
	Rebuild     bool
	Snapshot    bool
	Snapshots   bool
	Verify      bool
	JSONOutput  bool
}

type envConfig struct {
	DBPath  string        `env:"SPACE_FORTRESS_SAVE_DB_PATH"`
	Timeout time.Duration `env:"SPACE_FORTRESS_SAVETOOL_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:  envCfg.DBPath,
		Timeout: envCfg.Timeout,
		Limit:   50,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "save.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the save sqlite database (default: SPACE_FORTRESS_SAVE_DB_PATH or data/save.db)")
	fs.StringVar(&cfg.StreamID, "stream-id", "", "save stream to operate on")
	fs.Uint64Var(&cfg.AfterSeq, "after-seq", 0, "list events after this sequence")
	fs.Uint64Var(&cfg.UntilSeq, "until-seq", 0, "rebuild up to this event sequence (0 = latest)")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "max rows to print")
	fs.BoolVar(&cfg.ListStreams, "list-streams", false, "list all save streams with their head sequence")
	fs.BoolVar(&cfg.Rebuild, "rebuild", false, "rebuild fortress state for -stream-id and print it")
	fs.BoolVar(&cfg.Snapshot, "snapshot", false, "rebuild -stream-id to its head and persist a snapshot")
	fs.BoolVar(&cfg.Snapshots, "snapshots", false, "list retained snapshots for -stream-id")
	fs.BoolVar(&cfg.Verify, "verify", false, "verify event hash chains across all streams")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the savetool command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	modes := 0
	for _, enabled := range []bool{cfg.ListStreams, cfg.Rebuild, cfg.Snapshot, cfg.Snapshots, cfg.Verify} {
		if enabled {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("-list-streams, -rebuild, -snapshot, -snapshots and -verify are mutually exclusive")
	}
	if (cfg.Rebuild || cfg.Snapshot || cfg.Snapshots) && cfg.StreamID == "" {
		return errors.New("-stream-id is required")
	}
	if modes == 0 && cfg.StreamID == "" {
		return errors.New("-stream-id or a mode flag is required")
	}
	if cfg.Limit <= 0 {
		return errors.New("-limit must be > 0")
	}

	saves, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := saves.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close save store: %v\n", closeErr)
		}
	}()

	switch {
	case cfg.ListStreams:
		return runListStreams(ctx, saves, cfg.JSONOutput, out)
	case cfg.Rebuild:
		return runRebuild(ctx, saves, cfg.StreamID, cfg.UntilSeq, cfg.JSONOutput, out)
	case cfg.Snapshot:
		return runSnapshot(ctx, saves, cfg.StreamID, cfg.JSONOutput, out)
	case cfg.Snapshots:
		return runListSnapshots(ctx, saves, cfg.StreamID, cfg.Limit, cfg.JSONOutput, out)
	case cfg.Verify:
		return runVerify(ctx, saves, cfg.JSONOutput, out)
	default:
		return runListEvents(ctx, saves, cfg.StreamID, cfg.AfterSeq, cfg.Limit, cfg.JSONOutput, out)
	}
}

func openStore(ctx context.Context, path string) (*store.Store, error) {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" {
		return nil, fmt.Errorf("save db path is required")
	}
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	saves, err := store.Open(ctx, cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open save store: %w", err)
	}
	return saves, nil
}

type streamReport struct {
	StreamID  string `json:"stream_id"`
	LatestSeq uint64 `json:"latest_seq"`
}

func runListStreams(ctx context.Context, saves *store.Store, jsonOutput bool, out io.Writer) error {
	ids, err := saves.ListStreamIDs(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	reports := make([]streamReport, 0, len(ids))
	for _, id := range ids {
		latest, err := saves.LatestSeq(ctx, id)
		if err != nil {
			return fmt.Errorf("latest seq for %s: %w", id, err)
		}
		reports = append(reports, streamReport{StreamID: id, LatestSeq: latest})
	}

	if jsonOutput {
		return outputJSON(out, reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "No save streams")
		return nil
	}
	for _, report := range reports {
		fmt.Fprintf(out, "%s head=%d\n", report.StreamID, report.LatestSeq)
	}
	return nil
}

type eventReport struct {
	Seq        uint64 `json:"seq"`
	Type       string `json:"type"`
	RecordedAt string `json:"recorded_at"`
	Hash       string `json:"hash"`
	Payload    string `json:"payload"`
}

func runListEvents(ctx context.Context, saves *store.Store, streamID string, afterSeq uint64, limit int, jsonOutput bool, out io.Writer) error {
	events, err := saves.ListEvents(ctx, streamID, afterSeq, limit)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	if jsonOutput {
		reports := make([]eventReport, 0, len(events))
		for _, evt := range events {
			reports = append(reports, eventReport{
				Seq:        evt.Seq,
				Type:       string(evt.Type),
				RecordedAt: evt.RecordedAt.Format(time.RFC3339),
				Hash:       evt.Hash,
				Payload:    string(evt.Payload),
			})
		}
		return outputJSON(out, reports)
	}

	for _, evt := range events {
		fmt.Fprintf(out, "%d %s %s %s\n", evt.Seq, evt.Type, evt.RecordedAt.Format(time.RFC3339), string(evt.Payload))
	}
	return nil
}

type rebuildReport struct {
	StreamID   string      `json:"stream_id"`
	LastSeq    uint64      `json:"last_seq"`
	Applied    int         `json:"applied"`
	SeededFrom uint64      `json:"seeded_from,omitempty"`
	State      state.State `json:"state"`
}

func runRebuild(ctx context.Context, saves *store.Store, streamID string, untilSeq uint64, jsonOutput bool, out io.Writer) error {
	result, err := saves.Rebuild(ctx, streamID, state.Reducer{}, replay.Options{
		UntilSeq: untilSeq,
		Codec:    state.Codec{},
	})
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", streamID, err)
	}
	folded := result.State.(state.State)

	report := rebuildReport{
		StreamID:   streamID,
		LastSeq:    result.LastSeq,
		Applied:    result.Applied,
		SeededFrom: result.SeededFrom,
		State:      folded,
	}
	if jsonOutput {
		return outputJSON(out, report)
	}
	fmt.Fprintf(out, "Rebuilt %s through seq %d (%d events folded", streamID, report.LastSeq, report.Applied)
	if report.SeededFrom > 0 {
		fmt.Fprintf(out, ", seeded from snapshot at %d", report.SeededFrom)
	}
	fmt.Fprintln(out, ")")
	fmt.Fprintf(out, "Character: %s\n", folded.Character)
	fmt.Fprintf(out, "Score: %d\n", folded.Score)
	fmt.Fprintf(out, "Sector: %s\n", folded.Sector)
	fmt.Fprintf(out, "Inventory: %v\n", folded.Inventory)
	return nil
}

type snapshotReport struct {
	StreamID      string `json:"stream_id"`
	Seq           uint64 `json:"seq"`
	SchemaVersion uint32 `json:"schema_version"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func runSnapshot(ctx context.Context, saves *store.Store, streamID string, jsonOutput bool, out io.Writer) error {
	snapshot, err := saves.SnapshotNow(ctx, streamID, state.Reducer{}, state.Codec{})
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", streamID, err)
	}

	report := snapshotReport{
		StreamID:      snapshot.StreamID,
		Seq:           snapshot.Seq,
		SchemaVersion: snapshot.SchemaVersion,
	}
	if jsonOutput {
		return outputJSON(out, report)
	}
	fmt.Fprintf(out, "Snapshot saved for %s at seq %d (schema v%d)\n", report.StreamID, report.Seq, report.SchemaVersion)
	return nil
}

func runListSnapshots(ctx context.Context, saves *store.Store, streamID string, limit int, jsonOutput bool, out io.Writer) error {
	snapshots, err := saves.ListSnapshots(ctx, streamID, limit)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	if jsonOutput {
		reports := make([]snapshotReport, 0, len(snapshots))
		for _, snapshot := range snapshots {
			reports = append(reports, snapshotReport{
				StreamID:      snapshot.StreamID,
				Seq:           snapshot.Seq,
				SchemaVersion: snapshot.SchemaVersion,
				CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339),
			})
		}
		return outputJSON(out, reports)
	}

	if len(snapshots) == 0 {
		fmt.Fprintf(out, "No snapshots for %s\n", streamID)
		return nil
	}
	for _, snapshot := range snapshots {
		fmt.Fprintf(out, "seq=%d schema=v%d created_at=%s\n", snapshot.Seq, snapshot.SchemaVersion, snapshot.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

type verifyReport struct {
	OK bool `json:"ok"`
}

func runVerify(ctx context.Context, saves *store.Store, jsonOutput bool, out io.Writer) error {
	if err := saves.VerifyIntegrity(ctx); err != nil {
		return fmt.Errorf("verify integrity: %w", err)
	}
	if jsonOutput {
		return outputJSON(out, verifyReport{OK: true})
	}
	fmt.Fprintln(out, "Event hash chains verified")
	return nil
}

func outputJSON(out io.Writer, report any) error {
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}
