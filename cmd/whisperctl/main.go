package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-whisper/internal/audio"
	"github.com/loqalabs/loqa-whisper/internal/backend"
	"github.com/loqalabs/loqa-whisper/internal/native"
	"github.com/loqalabs/loqa-whisper/internal/session"
	"github.com/loqalabs/loqa-whisper/internal/timefmt"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'transcribe', 'sysinfo', 'bench' or 'version'")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch os.Args[1] {
	case "transcribe":
		cmd := flag.NewFlagSet("transcribe", flag.ExitOnError)
		var (
			modelPath  = cmd.String("model", "models/ggml-base.en.bin", "Path to model file")
			wavPath    = cmd.String("file", "", "Path to 16 kHz WAV file")
			language   = cmd.String("language", "", "Language hint, empty for auto")
			timestamps = cmd.Bool("timestamps", false, "Print per-segment timestamps")
			comma      = cmd.Bool("comma", false, "Use comma before milliseconds in timestamps")
			stream     = cmd.Bool("stream", false, "Use the streaming decode entry point")
			threads    = cmd.Int("threads", 0, "Decode threads, 0 for auto")
			mock       = cmd.Bool("mock", false, "Use the mock engine instead of whisper.cpp")
		)
		cmd.Parse(os.Args[2:])
		if *wavPath == "" {
			fmt.Fprintln(os.Stderr, "transcribe: -file is required")
			os.Exit(2)
		}
		if err := runTranscribe(logger, *modelPath, *wavPath, *language, *timestamps, *comma, *stream, *threads, *mock); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "sysinfo":
		engine, err := buildEngine(logger, false)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(engine.SystemInfo())
	case "bench":
		cmd := flag.NewFlagSet("bench", flag.ExitOnError)
		var (
			op      = cmd.String("op", "memcpy", "Benchmark to run: memcpy or mulmat")
			threads = cmd.Int("threads", backend.PreferredThreads(), "Benchmark threads")
		)
		cmd.Parse(os.Args[2:])
		if err := runBench(logger, *op, *threads); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func buildEngine(logger *slog.Logger, mock bool) (native.Engine, error) {
	var (
		engine native.Engine
		loader backend.Loader
	)
	if mock {
		engine = native.NewMockEngine()
		loader = backend.NopLoader()
	} else {
		if !native.Available() {
			return nil, fmt.Errorf("this build has no whisper.cpp support, rebuild with the whispercpp tag or pass -mock")
		}
		engine = native.NewEngine(logger)
		loader = native.LibraryLoader(logger)
	}
	if _, err := backend.NewSelector("/proc/cpuinfo", loader, logger).Ensure(); err != nil {
		return nil, fmt.Errorf("load recognizer backend: %w", err)
	}
	return engine, nil
}

func runTranscribe(logger *slog.Logger, modelPath, wavPath, language string, timestamps, comma, stream bool, threads int, mock bool) error {
	engine, err := buildEngine(logger, mock)
	if err != nil {
		return err
	}

	samples, err := audio.LoadWAV(wavPath)
	if err != nil {
		return err
	}

	sess, err := session.NewFromPath(engine, modelPath, session.Options{
		Threads: threads,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer sess.Release(ctx)

	if stream {
		text, err := sess.StreamTranscribe(ctx, samples, language)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	if timestamps {
		segs, err := sess.TranscribeSegments(ctx, samples, language)
		if err != nil {
			return err
		}
		for _, seg := range segs {
			fmt.Printf("[%s --> %s] %s\n",
				timefmt.Format(seg.Start, comma),
				timefmt.Format(seg.End, comma),
				seg.Text)
		}
		return nil
	}

	text, err := sess.Transcribe(ctx, samples, language, false)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runBench(logger *slog.Logger, op string, threads int) error {
	engine, err := buildEngine(logger, false)
	if err != nil {
		return err
	}
	var report string
	switch op {
	case "memcpy":
		report, err = engine.BenchMemcpy(threads)
	case "mulmat":
		report, err = engine.BenchMulMat(threads)
	default:
		return fmt.Errorf("unknown benchmark %q", op)
	}
	if err != nil {
		return err
	}
	fmt.Println(report)
	return nil
}
