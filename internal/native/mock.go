package native

import (
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"
)

// MockSegment scripts one recognition result for the mock engine.
type MockSegment struct {
	Text  string
	Start int64 // centiseconds
	End   int64
}

// MockEngine is an in-memory Engine for tests and daemon development mode.
// It records every native call, tracks how many calls are in flight, and
// reports scripted segments, or a single synthetic segment describing the
// input when nothing is scripted.
type MockEngine struct {
	// CallDelay stretches each transcription call so concurrent misuse has a
	// window to overlap in tests.
	CallDelay time.Duration

	mu          sync.Mutex
	next        Handle
	results     map[Handle][]MockSegment
	script      []MockSegment
	failInit    bool
	calls       []string
	destroys    int
	inFlight    int
	maxInFlight int
}

func NewMockEngine() *MockEngine {
	return &MockEngine{
		next:    1,
		results: make(map[Handle][]MockSegment),
	}
}

// ScriptSegments sets the segments every subsequent transcription reports.
func (m *MockEngine) ScriptSegments(segs ...MockSegment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = segs
}

// FailInit makes every construction entry point return the invalid handle.
func (m *MockEngine) FailInit(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInit = fail
}

// Calls returns the recorded native call names in invocation order.
func (m *MockEngine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MaxInFlight reports the highest number of native calls ever observed
// executing concurrently.
func (m *MockEngine) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// DestroyCount reports how many destroy calls reached the engine.
func (m *MockEngine) DestroyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroys
}

// LiveHandles reports how many handles exist and have not been destroyed.
func (m *MockEngine) LiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

func (m *MockEngine) InitFromPath(path string) Handle {
	return m.init("initFromPath")
}

func (m *MockEngine) InitFromStream(r io.Reader) Handle {
	if _, err := io.ReadAll(r); err != nil {
		return InvalidHandle
	}
	return m.init("initFromStream")
}

func (m *MockEngine) InitFromAsset(assets fs.FS, path string) Handle {
	f, err := assets.Open(path)
	if err != nil {
		return InvalidHandle
	}
	defer f.Close()
	return m.InitFromStream(f)
}

func (m *MockEngine) init(call string) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.failInit {
		return InvalidHandle
	}
	h := m.next
	m.next++
	m.results[h] = nil
	return h
}

func (m *MockEngine) Destroy(h Handle) {
	m.enter("destroy")
	defer m.exit()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[h]; ok {
		delete(m.results, h)
		m.destroys++
	}
}

func (m *MockEngine) FullTranscribe(h Handle, threads int, language string, samples []float32) error {
	return m.transcribe("fullTranscribe", h, samples)
}

func (m *MockEngine) FullStreamTranscribe(h Handle, threads int, language string, samples []float32) error {
	return m.transcribe("fullStreamTranscribe", h, samples)
}

func (m *MockEngine) transcribe(call string, h Handle, samples []float32) error {
	m.enter(call)
	defer m.exit()

	if m.CallDelay > 0 {
		time.Sleep(m.CallDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[h]; !ok {
		return fmt.Errorf("native: invalid handle %d", h)
	}
	if len(m.script) > 0 {
		m.results[h] = append([]MockSegment(nil), m.script...)
	} else {
		m.results[h] = []MockSegment{{
			Text: fmt.Sprintf("[mock transcript samples=%d]", len(samples)),
			End:  int64(len(samples) / (SampleRate / 100)),
		}}
	}
	return nil
}

func (m *MockEngine) SegmentCount(h Handle) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results[h])
}

func (m *MockEngine) SegmentText(h Handle, index int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if segs := m.results[h]; index >= 0 && index < len(segs) {
		return segs[index].Text
	}
	return ""
}

func (m *MockEngine) SegmentStart(h Handle, index int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if segs := m.results[h]; index >= 0 && index < len(segs) {
		return segs[index].Start
	}
	return 0
}

func (m *MockEngine) SegmentEnd(h Handle, index int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if segs := m.results[h]; index >= 0 && index < len(segs) {
		return segs[index].End
	}
	return 0
}

func (m *MockEngine) SystemInfo() string {
	return "mock whisper engine"
}

func (m *MockEngine) BenchMemcpy(threads int) (string, error) {
	return fmt.Sprintf("memcpy: mock run, %d threads", threads), nil
}

func (m *MockEngine) BenchMulMat(threads int) (string, error) {
	return fmt.Sprintf("ggml_mul_mat: mock run, %d threads", threads), nil
}

func (m *MockEngine) enter(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
}

func (m *MockEngine) exit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}
