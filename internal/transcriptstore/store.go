// Package transcriptstore persists finished transcriptions in a SQLite
// timeline with retention-based pruning.
package transcriptstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-whisper/internal/config"
)

// Transcript is one stored recognition result. Segments holds the JSON
// encoding of the per-segment breakdown.
type Transcript struct {
	ID         int64
	SessionID  string
	Language   string
	Text       string
	Segments   []byte
	DurationCS int64
	CreatedAt  time.Time
}

// Store wraps a SQLite-backed transcript timeline.
type Store struct {
	db    *sql.DB
	cfg   config.TranscriptsConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral retention keeps
// nothing and skips SQLite entirely.
func Open(ctx context.Context, cfg config.TranscriptsConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    language TEXT,
    text TEXT NOT NULL,
    segments BLOB,
    duration_cs INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ensure reports whether the store is usable for writes.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" {
		return nil
	}
	if s.db == nil {
		return errors.New("transcript store not open")
	}
	return nil
}

// Append records one transcript. Ephemeral retention drops it silently.
func (s *Store) Append(ctx context.Context, t Transcript) error {
	if s.db == nil {
		return nil
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, language, text, segments, duration_cs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Language, t.Text, t.Segments, t.DurationCS, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// ListSession returns the newest transcripts for one capture session, most
// recent first.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, language, text, segments, duration_cs, created_at
		 FROM transcripts WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Language, &t.Text, &t.Segments, &t.DurationCS, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune enforces the retention policy: rows older than retention_days go
// first, then the oldest rows beyond max_transcripts.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM transcripts WHERE created_at < ?", cutoff); err != nil {
			return fmt.Errorf("prune by age: %w", err)
		}
	}
	if s.cfg.MaxTranscripts > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM transcripts WHERE id NOT IN (
			    SELECT id FROM transcripts ORDER BY created_at DESC, id DESC LIMIT ?
			 )`, s.cfg.MaxTranscripts); err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
	}
	return nil
}
