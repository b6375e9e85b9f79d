// Package timefmt renders the engine's centisecond timestamps.
package timefmt

import "fmt"

// Format renders a centisecond count as HH:MM:SS.mmm, or HH:MM:SS,mmm when
// comma is set (SRT-style separator).
func Format(centiseconds int64, comma bool) string {
	ms := centiseconds * 10
	hours := ms / 3600000
	ms %= 3600000
	minutes := ms / 60000
	ms %= 60000
	seconds := ms / 1000
	ms %= 1000

	sep := "."
	if comma {
		sep = ","
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, seconds, sep, ms)
}
