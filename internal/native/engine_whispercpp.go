//go:build whispercpp

package native

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-whisper/internal/backend"
)

// Available reports whether the whisper.cpp backend is compiled in.
func Available() bool { return true }

// LibraryLoader touches the native surface once so a broken install fails
// during startup rather than on the first transcription.
func LibraryLoader(log *slog.Logger) backend.Loader {
	return backend.LoaderFunc(func(v backend.Variant) error {
		info := strings.TrimSpace(systemInfo())
		if info == "" {
			return fmt.Errorf("library %q returned empty system info", v.LibraryName())
		}
		log.Info("whisper backend ready", slog.String("system_info", info))
		return nil
	})
}

type resultSegment struct {
	text       string
	start, end int64 // centiseconds
}

type modelState struct {
	model    whisper.Model
	segments []resultSegment
}

// cppEngine adapts the whisper.cpp bindings to the handle-based surface.
// The engine mutex guards the handle table only; serializing calls on one
// handle is the owning session's gateway's job.
type cppEngine struct {
	log *slog.Logger

	mu     sync.Mutex
	next   Handle
	models map[Handle]*modelState
}

// NewEngine returns the whisper.cpp-backed engine.
func NewEngine(log *slog.Logger) Engine {
	return &cppEngine{
		log:    log,
		next:   1,
		models: make(map[Handle]*modelState),
	}
}

func (e *cppEngine) InitFromPath(path string) Handle {
	model, err := whisper.New(path)
	if err != nil {
		e.log.Warn("model load failed", slog.String("path", path), slog.String("error", err.Error()))
		return InvalidHandle
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.next
	e.next++
	e.models[h] = &modelState{model: model}
	return h
}

func (e *cppEngine) InitFromStream(r io.Reader) Handle {
	tmp, err := os.CreateTemp("", "whisper_model_*.bin")
	if err != nil {
		e.log.Warn("model stream spill failed", slog.String("error", err.Error()))
		return InvalidHandle
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		e.log.Warn("model stream read failed", slog.String("error", err.Error()))
		return InvalidHandle
	}
	if err := tmp.Close(); err != nil {
		e.log.Warn("model stream close failed", slog.String("error", err.Error()))
		return InvalidHandle
	}
	return e.InitFromPath(tmp.Name())
}

func (e *cppEngine) InitFromAsset(assets fs.FS, path string) Handle {
	f, err := assets.Open(path)
	if err != nil {
		e.log.Warn("model asset open failed", slog.String("asset", path), slog.String("error", err.Error()))
		return InvalidHandle
	}
	defer f.Close()
	return e.InitFromStream(f)
}

func (e *cppEngine) Destroy(h Handle) {
	e.mu.Lock()
	m := e.models[h]
	delete(e.models, h)
	e.mu.Unlock()

	if m != nil {
		m.model.Close()
	}
}

func (e *cppEngine) FullTranscribe(h Handle, threads int, language string, samples []float32) error {
	return e.transcribe(h, threads, language, samples)
}

// FullStreamTranscribe decodes a partial capture buffer. The binding has no
// incremental entry point, so partial buffers run the same full pass.
func (e *cppEngine) FullStreamTranscribe(h Handle, threads int, language string, samples []float32) error {
	return e.transcribe(h, threads, language, samples)
}

func (e *cppEngine) transcribe(h Handle, threads int, language string, samples []float32) error {
	m := e.lookup(h)
	if m == nil {
		return fmt.Errorf("native: invalid handle %d", h)
	}

	ctx, err := m.model.NewContext()
	if err != nil {
		return fmt.Errorf("new whisper context: %w", err)
	}

	ctx.SetTranslate(false)
	if language != "" {
		ctx.SetLanguage(language)
	}
	if threads > 0 {
		ctx.SetThreads(uint(threads))
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return fmt.Errorf("whisper full: %w", err)
	}

	m.segments = m.segments[:0]
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read segment: %w", err)
		}
		m.segments = append(m.segments, resultSegment{
			text:  seg.Text,
			start: int64(seg.Start / (10 * time.Millisecond)),
			end:   int64(seg.End / (10 * time.Millisecond)),
		})
	}
	return nil
}

func (e *cppEngine) SegmentCount(h Handle) int {
	if m := e.lookup(h); m != nil {
		return len(m.segments)
	}
	return 0
}

func (e *cppEngine) SegmentText(h Handle, index int) string {
	if m := e.lookup(h); m != nil && index >= 0 && index < len(m.segments) {
		return m.segments[index].text
	}
	return ""
}

func (e *cppEngine) SegmentStart(h Handle, index int) int64 {
	if m := e.lookup(h); m != nil && index >= 0 && index < len(m.segments) {
		return m.segments[index].start
	}
	return 0
}

func (e *cppEngine) SegmentEnd(h Handle, index int) int64 {
	if m := e.lookup(h); m != nil && index >= 0 && index < len(m.segments) {
		return m.segments[index].end
	}
	return 0
}

func (e *cppEngine) SystemInfo() string { return systemInfo() }

func (e *cppEngine) BenchMemcpy(threads int) (string, error) {
	return benchMemcpy(threads), nil
}

func (e *cppEngine) BenchMulMat(threads int) (string, error) {
	return benchMulMat(threads), nil
}

func (e *cppEngine) lookup(h Handle) *modelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.models[h]
}
