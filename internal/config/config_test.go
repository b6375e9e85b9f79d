package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "native" {
		t.Fatalf("expected default engine mode native, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.CPUInfoPath != "/proc/cpuinfo" {
		t.Fatalf("expected default cpuinfo path, got %q", cfg.Engine.CPUInfoPath)
	}
	if cfg.ASR.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.ASR.SampleRate)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHISPERD_ENGINE_MODE", "mock")
	t.Setenv("WHISPERD_ENGINE_MODEL_PATH", "./models/ggml-base.bin")
	t.Setenv("WHISPERD_ENGINE_LANGUAGE", "de")
	t.Setenv("WHISPERD_ENGINE_THREADS", "6")
	t.Setenv("WHISPERD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("WHISPERD_BUS_EMBEDDED", "false")
	t.Setenv("WHISPERD_ASR_PUBLISH_INTERIM", "true")
	t.Setenv("WHISPERD_TRANSCRIPTS_RETENTION_MODE", "persistent")
	t.Setenv("WHISPERD_TRANSCRIPTS_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.Mode != "mock" {
		t.Fatalf("expected engine mode override, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.ModelPath != "./models/ggml-base.bin" {
		t.Fatalf("expected model path override, got %q", cfg.Engine.ModelPath)
	}
	if cfg.Engine.Language != "de" {
		t.Fatalf("expected language override, got %q", cfg.Engine.Language)
	}
	if cfg.Engine.Threads != 6 {
		t.Fatalf("expected thread override 6, got %d", cfg.Engine.Threads)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if !cfg.ASR.PublishInterim {
		t.Fatal("expected publish interim override true")
	}
	if cfg.Transcripts.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override, got %q", cfg.Transcripts.RetentionMode)
	}
	if cfg.Transcripts.RetentionDays != 7 {
		t.Fatalf("expected retention days 7, got %d", cfg.Transcripts.RetentionDays)
	}
}

func TestValidateRejectsUnknownEngineMode(t *testing.T) {
	t.Setenv("WHISPERD_ENGINE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown engine mode")
	}
}
