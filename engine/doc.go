// Package engine models a minimal storage handle: four subsystems
// (checkpoint, eviction, log, read) that each call through capacity.Throttle,
// the three write subsystems then appending to their own segment store
// (read has no store and performs no I/O), and a background durability sync
// that flushes every write-side store and forwards sealed segment files to
// a cloud uploader. The core treats FsyncAller, the write path, and the
// read path as opaque collaborators; this package supplies concrete,
// exercisable versions of all three.
package engine
