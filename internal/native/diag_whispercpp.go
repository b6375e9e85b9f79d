//go:build whispercpp

package native

// Diagnostic pass-throughs not covered by the high-level binding.

/*
#cgo LDFLAGS: -lwhisper -lm -lstdc++
#include <whisper.h>
*/
import "C"

func systemInfo() string {
	return C.GoString(C.whisper_print_system_info())
}

func benchMemcpy(threads int) string {
	return C.GoString(C.whisper_bench_memcpy_str(C.int(threads)))
}

func benchMulMat(threads int) string {
	return C.GoString(C.whisper_bench_ggml_mul_mat_str(C.int(threads)))
}
