package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EngineConfig controls the native recognizer and its model source.
type EngineConfig struct {
	Mode        string `yaml:"mode"` // native, mock
	ModelPath   string `yaml:"model_path"`
	Language    string `yaml:"language"`
	Threads     int    `yaml:"threads"` // 0 = derive from CPU count
	CPUInfoPath string `yaml:"cpuinfo_path"`
	QueueDepth  int    `yaml:"queue_depth"`
}

type ASRConfig struct {
	Enabled        bool `yaml:"enabled"`
	SampleRate     int  `yaml:"sample_rate"`
	Channels       int  `yaml:"channels"`
	PartialEveryMS int  `yaml:"partial_every_ms"`
	PublishInterim bool `yaml:"publish_interim"`
}

type TranscriptsConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxTranscripts int    `yaml:"max_transcripts"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Engine      EngineConfig      `yaml:"engine"`
	ASR         ASRConfig         `yaml:"asr"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-whisper",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:        "native",
			Language:    "en",
			CPUInfoPath: "/proc/cpuinfo",
			QueueDepth:  16,
		},
		ASR: ASRConfig{
			Enabled:        true,
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			PublishInterim: false,
		},
		Transcripts: TranscriptsConfig{
			Path:           "./data/transcripts.db",
			RetentionMode:  "session",
			RetentionDays:  30,
			MaxTranscripts: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "WHISPERD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "WHISPERD_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "WHISPERD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "WHISPERD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "WHISPERD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "WHISPERD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "WHISPERD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "WHISPERD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "WHISPERD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "WHISPERD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "WHISPERD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "WHISPERD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "WHISPERD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "WHISPERD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "WHISPERD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "WHISPERD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "WHISPERD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "WHISPERD_ENGINE_MODE")
	overrideString(&cfg.Engine.ModelPath, "WHISPERD_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "WHISPERD_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.Threads, "WHISPERD_ENGINE_THREADS")
	overrideString(&cfg.Engine.CPUInfoPath, "WHISPERD_ENGINE_CPUINFO_PATH")
	overrideInt(&cfg.Engine.QueueDepth, "WHISPERD_ENGINE_QUEUE_DEPTH")
	overrideBool(&cfg.ASR.Enabled, "WHISPERD_ASR_ENABLED")
	overrideInt(&cfg.ASR.SampleRate, "WHISPERD_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.Channels, "WHISPERD_ASR_CHANNELS")
	overrideInt(&cfg.ASR.PartialEveryMS, "WHISPERD_ASR_PARTIAL_EVERY_MS")
	overrideBool(&cfg.ASR.PublishInterim, "WHISPERD_ASR_PUBLISH_INTERIM")
	overrideString(&cfg.Transcripts.Path, "WHISPERD_TRANSCRIPTS_PATH")
	overrideString(&cfg.Transcripts.RetentionMode, "WHISPERD_TRANSCRIPTS_RETENTION_MODE")
	overrideInt(&cfg.Transcripts.RetentionDays, "WHISPERD_TRANSCRIPTS_RETENTION_DAYS")
	overrideInt(&cfg.Transcripts.MaxTranscripts, "WHISPERD_TRANSCRIPTS_MAX")
	overrideBool(&cfg.Transcripts.VacuumOnStart, "WHISPERD_TRANSCRIPTS_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	switch cfg.Engine.Mode {
	case "native", "mock":
	default:
		return fmt.Errorf("engine.mode must be native or mock, got %q", cfg.Engine.Mode)
	}
	if cfg.ASR.Enabled {
		if cfg.ASR.SampleRate <= 0 {
			return errors.New("asr.sample_rate must be positive")
		}
		if cfg.ASR.Channels <= 0 {
			return errors.New("asr.channels must be positive")
		}
	}
	switch cfg.Transcripts.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return fmt.Errorf("transcripts.retention_mode must be ephemeral, session or persistent, got %q", cfg.Transcripts.RetentionMode)
	}
	return nil
}
