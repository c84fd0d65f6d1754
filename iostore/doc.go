// Package iostore is the write path the throttle core treats as an
// external collaborator: a double-buffered, mmap'd segment per subsystem
// backed by a Direct I/O file writer with size-based rotation.
//
// A Store owns one Segment (the in-memory double buffer records are
// appended to) and one FileWriter (the Direct I/O handle records are
// flushed to on swap). Callers append already-throttled records with
// Store.Append; Store itself does no throttling — that is capacity.Throttle's
// job, invoked by the engine package before Append is ever called.
package iostore
