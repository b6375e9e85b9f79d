package transcriptstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-whisper/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.TranscriptsConfig{RetentionMode: "ephemeral"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	// Writes are dropped, not errors.
	if err := st.Append(context.Background(), Transcript{SessionID: "s", Text: "hi"}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptsConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Append(context.Background(), Transcript{
		SessionID:  "session-123",
		Language:   "en",
		Text:       "hello world",
		Segments:   []byte(`[{"text":"hello world","start_cs":0,"end_cs":120}]`),
		DurationCS: 120,
	}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	got, err := st.ListSession(context.Background(), "session-123", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(got))
	}
	if got[0].Text != "hello world" || got[0].Language != "en" || got[0].DurationCS != 120 {
		t.Fatalf("unexpected transcript %+v", got[0])
	}

	other, err := st.ListSession(context.Background(), "unknown", 10)
	if err != nil {
		t.Fatalf("list unknown session: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no transcripts for unknown session, got %d", len(other))
	}
}

func TestPruneByAgeAndCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptsConfig{
		Path:           filepath.Join(tmp, "transcripts.db"),
		RetentionMode:  "persistent",
		RetentionDays:  1,
		MaxTranscripts: 1,
	}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := st.Append(context.Background(), Transcript{SessionID: "s", Text: "old", CreatedAt: old}); err != nil {
		t.Fatalf("append old: %v", err)
	}
	recent := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	if err := st.Append(context.Background(), Transcript{SessionID: "s", Text: "new", CreatedAt: recent}); err != nil {
		t.Fatalf("append new: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC) }
	if err := st.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, err := st.ListSession(context.Background(), "s", 10)
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 transcript after prune, got %d", len(got))
	}
	if got[0].Text != "new" {
		t.Fatalf("expected newest transcript to survive, got %q", got[0].Text)
	}
}
