// Package session pairs one native recognizer handle with its serial
// gateway and owns the handle's lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/loqalabs/loqa-whisper/internal/backend"
	"github.com/loqalabs/loqa-whisper/internal/gateway"
	"github.com/loqalabs/loqa-whisper/internal/native"
)

// ErrReleased is returned when a transcription is attempted after the
// session's handle has been released.
var ErrReleased = errors.New("session: released")

// InitError reports a construction entry point that got the invalid handle
// back from the engine. A failed construction leaves nothing to release.
type InitError struct {
	Source string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session: engine returned invalid handle for %s", e.Source)
}

// Segment is one contiguous unit of recognized text, copied out of the
// engine's result buffer. Times are centiseconds from the start of the
// audio.
type Segment struct {
	Text  string
	Start int64
	End   int64
}

// Options tunes session construction.
type Options struct {
	// Threads overrides the engine worker-thread count. 0 derives it from
	// the host CPU.
	Threads int
	// QueueDepth bounds the gateway queue. 0 uses the gateway default.
	QueueDepth int
	Logger     *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Session owns exactly one native handle. All native calls funnel through
// its gateway worker; the handle value is only ever mutated inside the
// serialized destroy task. The released flag read before submission is a
// best-effort fast fail and is reconfirmed inside the task.
type Session struct {
	engine  native.Engine
	log     *slog.Logger
	gw      *gateway.Gateway
	threads int

	handle   atomic.Uintptr
	released atomic.Bool
}

// NewFromPath loads a model file from disk.
func NewFromPath(engine native.Engine, path string, opts Options) (*Session, error) {
	return newSession(engine, engine.InitFromPath(path), path, opts)
}

// NewFromStream consumes the reader fully while constructing the model.
func NewFromStream(engine native.Engine, r io.Reader, opts Options) (*Session, error) {
	return newSession(engine, engine.InitFromStream(r), "stream", opts)
}

// NewFromAsset resolves the model from a bundled asset filesystem.
func NewFromAsset(engine native.Engine, assets fs.FS, path string, opts Options) (*Session, error) {
	return newSession(engine, engine.InitFromAsset(assets, path), "asset:"+path, opts)
}

func newSession(engine native.Engine, h native.Handle, source string, opts Options) (*Session, error) {
	if h == native.InvalidHandle {
		return nil, &InitError{Source: source}
	}

	s := &Session{
		engine:  engine,
		log:     opts.logger(),
		gw:      gateway.New(opts.QueueDepth),
		threads: opts.Threads,
	}
	s.handle.Store(uintptr(h))
	s.log.Debug("session created", slog.String("source", source), slog.Uint64("handle", uint64(h)))

	// Backstop only: the explicit Release call is the contract.
	runtime.SetFinalizer(s, (*Session).finalize)
	return s, nil
}

// Transcribe runs a full pass over a complete utterance and returns the
// segment texts concatenated in recognition order, with no separator.
// emitTimestamps is reserved for the structured result; it never alters the
// flattened text. Use TranscribeSegments for timed output.
func (s *Session) Transcribe(ctx context.Context, samples []float32, language string, emitTimestamps bool) (string, error) {
	segs, err := s.transcribe(ctx, samples, language, false)
	if err != nil {
		return "", err
	}
	return flatten(segs), nil
}

// StreamTranscribe is the incremental variant for partial buffers arriving
// during live capture. Result assembly is identical to Transcribe.
func (s *Session) StreamTranscribe(ctx context.Context, samples []float32, language string) (string, error) {
	segs, err := s.transcribe(ctx, samples, language, true)
	if err != nil {
		return "", err
	}
	return flatten(segs), nil
}

// TranscribeSegments runs a full pass and returns the ordered segments with
// their centisecond bounds.
func (s *Session) TranscribeSegments(ctx context.Context, samples []float32, language string) ([]Segment, error) {
	return s.transcribe(ctx, samples, language, false)
}

func (s *Session) transcribe(ctx context.Context, samples []float32, language string, stream bool) ([]Segment, error) {
	if s.released.Load() || s.handle.Load() == 0 {
		return nil, ErrReleased
	}

	var segs []Segment
	err := s.gw.Submit(ctx, func() error {
		h := native.Handle(s.handle.Load())
		if h == native.InvalidHandle {
			return ErrReleased
		}

		threads := s.threads
		if threads <= 0 {
			threads = backend.PreferredThreads()
		}

		var err error
		if stream {
			err = s.engine.FullStreamTranscribe(h, threads, language, samples)
		} else {
			err = s.engine.FullTranscribe(h, threads, language, samples)
		}
		if err != nil {
			return fmt.Errorf("session: full transcribe: %w", err)
		}

		segs = collectSegments(s.engine, h)
		return nil
	})
	if errors.Is(err, gateway.ErrClosed) {
		return nil, ErrReleased
	}
	if err != nil {
		return nil, err
	}
	return segs, nil
}

// collectSegments copies the engine's result buffer out while the serialized
// task still holds the handle; the buffer is only stable until the next
// native call.
func collectSegments(engine native.Engine, h native.Handle) []Segment {
	n := engine.SegmentCount(h)
	segs := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		segs = append(segs, Segment{
			Text:  engine.SegmentText(h, i),
			Start: engine.SegmentStart(h, i),
			End:   engine.SegmentEnd(h, i),
		})
	}
	return segs
}

func flatten(segs []Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Released reports whether the session has begun releasing.
func (s *Session) Released() bool {
	return s.released.Load()
}

// Release queues the destroy task, shuts the gateway to new submissions, and
// blocks until the handle is gone. It is idempotent: later calls return nil
// without touching the engine. Destroy-path problems are logged rather than
// returned so Release stays safe to call unconditionally.
func (s *Session) Release(ctx context.Context) error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(s, nil)

	err := s.gw.SubmitFinal(ctx, func() error {
		h := native.Handle(s.handle.Load())
		if h == native.InvalidHandle {
			return nil
		}
		s.engine.Destroy(h)
		s.handle.Store(uintptr(native.InvalidHandle))
		s.log.Debug("session released", slog.Uint64("handle", uint64(h)))
		return nil
	})
	if err != nil && !errors.Is(err, gateway.ErrClosed) {
		s.log.Warn("release failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Session) finalize() {
	if s.released.Load() {
		return
	}
	s.log.Warn("session reclaimed without explicit release")
	_ = s.Release(context.Background())
}
