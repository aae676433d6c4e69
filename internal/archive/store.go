// Package archive persists finished runs to a local SQLite database.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/otumarastudio/youtube-summarizer/internal/extract"
	"github.com/otumarastudio/youtube-summarizer/internal/logging"
	"github.com/otumarastudio/youtube-summarizer/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	startedAt REAL NOT NULL,
	finishedAt REAL NOT NULL,
	state TEXT NOT NULL,
	stopReason TEXT NOT NULL DEFAULT '',
	audioDevice TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	rawExtraction TEXT NOT NULL DEFAULT '',
	analysisError TEXT
);

CREATE TABLE IF NOT EXISTS segments (
	runId TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	sequenceNumber INTEGER NOT NULL,
	text TEXT NOT NULL,
	latencyMs INTEGER NOT NULL DEFAULT 0,
	final INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (runId, sequenceNumber)
);

CREATE TABLE IF NOT EXISTS records (
	runId TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	instrument TEXT NOT NULL DEFAULT '',
	price TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL DEFAULT '',
	opinion TEXT NOT NULL DEFAULT '',
	sentiment TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (runId, position)
);
`

// Run is one archived listening run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	State         string
	StopReason    string
	AudioDevice   string
	Transcript    string
	RawExtraction string
	AnalysisError string
	Segments      int
	Records       int
}

// Store is a read/write handle on the archive database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns archive.sqlite under the stocklisten state directory.
func DefaultPath() (string, error) {
	dir, err := logging.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "archive.sqlite"), nil
}

// ResolvePath returns configured when set, otherwise DefaultPath.
func ResolvePath(configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}
	return DefaultPath()
}

// Open creates the database and schema when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("archive path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// One connection keeps the foreign_keys pragma in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run with its segments and extracted records.
func (s *Store) Record(ctx context.Context, result session.Result) error {
	id := result.RunID
	if id == "" {
		id = uuid.NewString()
	}
	var analysisErr sql.NullString
	if result.AnalysisErr != nil {
		analysisErr = sql.NullString{String: result.AnalysisErr.Error(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, startedAt, finishedAt, state, stopReason, audioDevice, transcript, rawExtraction, analysisError)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, unixFromTime(result.StartedAt), unixFromTime(result.FinishedAt), string(result.State),
		string(result.StopReason), result.AudioDevice, result.Transcript, result.RawExtraction, analysisErr); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, seg := range result.Segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (runId, sequenceNumber, text, latencyMs, final)
			VALUES (?, ?, ?, ?, ?)
		`, id, seg.Seq, seg.Text, seg.Latency.Milliseconds(), seg.Final); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Seq, err)
		}
	}

	for i, rec := range result.Records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (runId, position, instrument, price, action, opinion, sentiment)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, i, rec.Instrument, rec.Price, rec.Action, rec.Opinion, rec.Sentiment); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.startedAt, r.finishedAt, r.state, r.stopReason, r.audioDevice,
			r.transcript, r.rawExtraction, r.analysisError,
			(SELECT COUNT(*) FROM segments WHERE runId = r.id),
			(SELECT COUNT(*) FROM records WHERE runId = r.id)
		FROM runs r
		ORDER BY r.startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt float64
		var analysisErr sql.NullString
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &run.State, &run.StopReason,
			&run.AudioDevice, &run.Transcript, &run.RawExtraction, &analysisErr,
			&run.Segments, &run.Records); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = timeFromUnix(startedAt)
		run.FinishedAt = timeFromUnix(finishedAt)
		if analysisErr.Valid {
			run.AnalysisError = analysisErr.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Records returns the extracted records of one run in extraction order.
func (s *Store) Records(ctx context.Context, runID string) ([]extract.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument, price, action, opinion, sentiment
		FROM records
		WHERE runId = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []extract.Record
	for rows.Next() {
		var rec extract.Record
		if err := rows.Scan(&rec.Instrument, &rec.Price, &rec.Action, &rec.Opinion, &rec.Sentiment); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
