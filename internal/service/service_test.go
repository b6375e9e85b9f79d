package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-whisper/internal/bus"
	"github.com/loqalabs/loqa-whisper/internal/config"
	"github.com/loqalabs/loqa-whisper/internal/native"
	"github.com/loqalabs/loqa-whisper/internal/natsserver"
	"github.com/loqalabs/loqa-whisper/internal/protocol"
	"github.com/loqalabs/loqa-whisper/internal/transcriptstore"
)

func startTestBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	embedded, err := natsserver.Start(config.BusConfig{
		Embedded: true,
		Port:     -1,
		StoreDir: t.TempDir(),
	}, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(embedded.Shutdown)

	client, err := bus.Connect(config.BusConfig{
		Servers:        []string{embedded.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestFinalFramePublishesAndPersistsTranscript(t *testing.T) {
	client := startTestBus(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := native.NewMockEngine()
	engine.ScriptSegments(
		native.MockSegment{Text: "Hello ", Start: 0, End: 120},
		native.MockSegment{Text: "world!", Start: 120, End: 250},
	)

	store, err := transcriptstore.Open(context.Background(), config.TranscriptsConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "persistent",
	}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := New(context.Background(), config.ASRConfig{
		Enabled:    true,
		SampleRate: 16000,
		Channels:   1,
	}, config.EngineConfig{
		Mode:      "mock",
		ModelPath: "model.bin",
	}, client, engine, store)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	frame := protocol.AudioFrame{
		SessionID:  "cap-1",
		SampleRate: 16000,
		Channels:   1,
		PCM:        make([]byte, 3200),
		Final:      true,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := client.Conn().Publish(protocol.SubjectAudioFramePrefix+".cap-1", data); err != nil {
		t.Fatalf("publish frame: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("no final transcript: %v", err)
	}
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if transcript.SessionID != "cap-1" {
		t.Fatalf("session id = %q, want cap-1", transcript.SessionID)
	}
	if transcript.Text != "Hello world!" {
		t.Fatalf("text = %q, want %q", transcript.Text, "Hello world!")
	}
	if transcript.Partial {
		t.Fatal("final transcript marked partial")
	}
	if len(transcript.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(transcript.Segments))
	}
	if transcript.Segments[1].EndCS != 250 {
		t.Fatalf("last segment end = %d, want 250", transcript.Segments[1].EndCS)
	}

	// Persistence runs after publish on the same worker; poll briefly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := store.ListSession(context.Background(), "cap-1", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(rows) == 1 {
			if rows[0].Text != "Hello world!" {
				t.Fatalf("stored text = %q", rows[0].Text)
			}
			if rows[0].DurationCS != 250 {
				t.Fatalf("stored duration = %d, want 250", rows[0].DurationCS)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transcript not persisted, rows = %d", len(rows))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInterimFramesPublishPartials(t *testing.T) {
	client := startTestBus(t)

	engine := native.NewMockEngine()
	engine.ScriptSegments(native.MockSegment{Text: "partial so far", End: 90})

	svc := New(context.Background(), config.ASRConfig{
		Enabled:        true,
		SampleRate:     16000,
		Channels:       1,
		PublishInterim: true,
		PartialEveryMS: 1,
	}, config.EngineConfig{
		Mode:      "mock",
		ModelPath: "model.bin",
	}, client, engine, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptPartial)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	frame := protocol.AudioFrame{
		SessionID:  "cap-2",
		SampleRate: 16000,
		Channels:   1,
		PCM:        make([]byte, 640),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := client.Conn().Publish(protocol.SubjectAudioFramePrefix+".cap-2", data); err != nil {
		t.Fatalf("publish frame: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("no partial transcript: %v", err)
	}
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if !transcript.Partial {
		t.Fatal("expected partial transcript")
	}
	if transcript.Text != "partial so far" {
		t.Fatalf("text = %q", transcript.Text)
	}
}

func TestDisabledServiceStartsWithoutBusTraffic(t *testing.T) {
	svc := New(context.Background(), config.ASRConfig{Enabled: false}, config.EngineConfig{}, nil, nil, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("start disabled service: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	svc.Close()
}
