package iostore

import "time"

// FileWriter is the Direct I/O-backed sink a Store drains swapped segment
// data into.
type FileWriter interface {
	// WriteVectored writes buffers at the writer's current offset using
	// vectored I/O, rotating to a new file first if configured to do so.
	WriteVectored(buffers [][]byte) (int, error)

	// LastWriteDuration returns how long the most recent WriteVectored
	// call's underlying syscall took.
	LastWriteDuration() time.Duration

	// Close syncs and closes the current (and, if mid-rotation, next)
	// file.
	Close() error
}
