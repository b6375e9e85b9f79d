// Package backend picks the native whisper library variant for the running
// CPU and loads it exactly once per process.
package backend

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
)

// Variant identifies a compiled build of the native engine tuned for a CPU
// capability subset.
type Variant string

const (
	Baseline  Variant = "baseline"
	ArmVfpv4  Variant = "arm-vfpv4"
	ArmV8Fp16 Variant = "armv8-fp16"
)

// LibraryName returns the shared library the variant is shipped as.
func (v Variant) LibraryName() string {
	switch v {
	case ArmVfpv4:
		return "whisper_vfpv4"
	case ArmV8Fp16:
		return "whisper_v8fp16_va"
	default:
		return "whisper"
	}
}

// Primary ABI identifiers as reported by the host platform.
const (
	ABIArm32 = "armeabi-v7a"
	ABIArm64 = "arm64-v8a"
)

// Select maps the primary ABI and the CPU description contents to a library
// variant. Capability tokens are only honored on the matching ABI; everything
// else falls through to Baseline.
func Select(abi, cpuinfo string) Variant {
	switch abi {
	case ABIArm32:
		if strings.Contains(cpuinfo, "vfpv4") {
			return ArmVfpv4
		}
	case ABIArm64:
		if strings.Contains(cpuinfo, "fphp") {
			return ArmV8Fp16
		}
	}
	return Baseline
}

// RuntimeABI reports the primary ABI identifier for the running process.
func RuntimeABI() string {
	switch runtime.GOARCH {
	case "arm":
		return ABIArm32
	case "arm64":
		return ABIArm64
	case "amd64":
		return "x86_64"
	default:
		return runtime.GOARCH
	}
}

// Loader binds a selected variant's shared library into the process.
type Loader interface {
	Load(v Variant) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(v Variant) error

func (f LoaderFunc) Load(v Variant) error { return f(v) }

// NopLoader satisfies Loader without touching any native code. Used when the
// engine runs in mock mode.
func NopLoader() Loader {
	return LoaderFunc(func(Variant) error { return nil })
}

// Selector performs the capability probe and drives the loader. Ensure is
// idempotent: the probe runs once and every later call returns the recorded
// outcome.
type Selector struct {
	log         *slog.Logger
	abi         string
	cpuInfoPath string
	loader      Loader

	mu      sync.Mutex
	done    bool
	variant Variant
	err     error
}

func NewSelector(cpuInfoPath string, loader Loader, log *slog.Logger) *Selector {
	return &Selector{
		log:         log,
		abi:         RuntimeABI(),
		cpuInfoPath: cpuInfoPath,
		loader:      loader,
	}
}

// WithABI overrides the probed ABI identifier. Intended for tests.
func (s *Selector) WithABI(abi string) *Selector {
	s.abi = abi
	return s
}

// Ensure selects the variant and loads its library. A load failure is
// recorded and returned on every subsequent call; no fallback variant is
// attempted.
func (s *Selector) Ensure() (Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return s.variant, s.err
	}
	s.done = true

	s.variant = Select(s.abi, s.readCPUInfo())
	if err := s.loader.Load(s.variant); err != nil {
		s.err = fmt.Errorf("load native library %q: %w", s.variant.LibraryName(), err)
		return s.variant, s.err
	}
	s.log.Info("native backend loaded",
		slog.String("abi", s.abi),
		slog.String("variant", string(s.variant)),
		slog.String("library", s.variant.LibraryName()))
	return s.variant, nil
}

// readCPUInfo treats an unreadable CPU description as "capability absent".
func (s *Selector) readCPUInfo() string {
	if s.cpuInfoPath == "" {
		return ""
	}
	data, err := os.ReadFile(s.cpuInfoPath)
	if err != nil {
		s.log.Warn("cpu description unreadable, assuming baseline capabilities",
			slog.String("path", s.cpuInfoPath),
			slog.String("error", err.Error()))
		return ""
	}
	return string(data)
}

// PreferredThreads derives the native worker-thread count from the host CPU
// topology, capped to keep the decoder from oversubscribing small cores.
func PreferredThreads() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}
