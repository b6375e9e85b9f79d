// Package native defines the call surface of the whisper recognizer engine.
//
// An Engine instance is NOT safe for concurrent calls on the same handle;
// every call belonging to one handle must go through the owning session's
// serial gateway.
package native

import (
	"errors"
	"io"
	"io/fs"
)

// Handle references engine-side model state. It is an opaque identifier,
// never a pointer into host memory. Zero means invalid/absent.
type Handle uintptr

const InvalidHandle Handle = 0

// SampleRate is the PCM rate the engine expects: normalized mono float32.
const SampleRate = 16000

// ErrUnavailable is returned by builds without the native engine compiled in.
var ErrUnavailable = errors.New("native: whisper engine not built (compile with -tags whispercpp)")

// Engine is the semantic FFI surface consumed by sessions. Construction
// entry points return InvalidHandle on failure rather than an error; the
// session layer turns that into an initialization error carrying the source.
type Engine interface {
	InitFromPath(path string) Handle
	InitFromStream(r io.Reader) Handle
	InitFromAsset(assets fs.FS, path string) Handle

	// Destroy releases the model behind h. Calling it with InvalidHandle is
	// a no-op.
	Destroy(h Handle)

	FullTranscribe(h Handle, threads int, language string, samples []float32) error
	FullStreamTranscribe(h Handle, threads int, language string, samples []float32) error

	// Segment accessors read the engine's internal result buffer. The buffer
	// is only stable until the next call on the same handle.
	SegmentCount(h Handle) int
	SegmentText(h Handle, index int) string
	SegmentStart(h Handle, index int) int64 // centiseconds
	SegmentEnd(h Handle, index int) int64   // centiseconds

	SystemInfo() string
	BenchMemcpy(threads int) (string, error)
	BenchMulMat(threads int) (string, error)
}
