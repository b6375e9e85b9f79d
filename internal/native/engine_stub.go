//go:build !whispercpp

package native

import (
	"io"
	"io/fs"
	"log/slog"

	"github.com/loqalabs/loqa-whisper/internal/backend"
)

// Available reports whether the whisper.cpp backend is compiled in.
func Available() bool { return false }

// NewEngine returns the stub engine for builds without whisper.cpp.
func NewEngine(log *slog.Logger) Engine {
	return stubEngine{}
}

// LibraryLoader fails in stub builds; the daemon can still run with the mock
// engine, which pairs with backend.NopLoader instead.
func LibraryLoader(log *slog.Logger) backend.Loader {
	return backend.LoaderFunc(func(backend.Variant) error {
		return ErrUnavailable
	})
}

type stubEngine struct{}

func (stubEngine) InitFromPath(string) Handle              { return InvalidHandle }
func (stubEngine) InitFromStream(io.Reader) Handle         { return InvalidHandle }
func (stubEngine) InitFromAsset(fs.FS, string) Handle      { return InvalidHandle }
func (stubEngine) Destroy(Handle)                          {}
func (stubEngine) SegmentCount(Handle) int                 { return 0 }
func (stubEngine) SegmentText(Handle, int) string          { return "" }
func (stubEngine) SegmentStart(Handle, int) int64          { return 0 }
func (stubEngine) SegmentEnd(Handle, int) int64            { return 0 }
func (stubEngine) SystemInfo() string                      { return "whisper engine not built" }
func (stubEngine) BenchMemcpy(int) (string, error)         { return "", ErrUnavailable }
func (stubEngine) BenchMulMat(int) (string, error)         { return "", ErrUnavailable }

func (stubEngine) FullTranscribe(Handle, int, string, []float32) error {
	return ErrUnavailable
}

func (stubEngine) FullStreamTranscribe(Handle, int, string, []float32) error {
	return ErrUnavailable
}
