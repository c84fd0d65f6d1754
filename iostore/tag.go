package iostore

import "time"

// Tag identifies which storage-engine subsystem a Store's segment file
// belongs to. Unlike the teacher's shard collection, where every shard held
// interchangeable, identically-shaped log lines, each capacity subsystem
// here produces a distinct on-disk stream, so the tag rides along with the
// segment itself: in its buffer header, in its file and directory layout,
// and downstream in cloudflush's object layout.
type Tag uint8

const (
	// TagCheckpoint is the checkpoint writer's segment stream.
	TagCheckpoint Tag = iota
	// TagEviction is the page-eviction writer's segment stream.
	TagEviction
	// TagLog is the write-ahead log's segment stream.
	TagLog
)

// String returns the tag's directory- and filename-safe short name.
func (t Tag) String() string {
	switch t {
	case TagCheckpoint:
		return "ckpt"
	case TagEviction:
		return "evict"
	case TagLog:
		return "log"
	default:
		return "unknown"
	}
}

// LatencyCritical reports whether this subsystem's stream sits on a
// synchronous replay path, where a slow flush or a slow upload delays
// recovery rather than just bulk throughput. The write-ahead log is
// replayed in strict sequence order during recovery; checkpoint and
// eviction streams are bulk page images a recovering engine reads whole,
// not incrementally, so neither is on that critical path.
func (t Tag) LatencyCritical() bool { return t == TagLog }

// DefaultPreallocation returns the fallocate/preallocation size to use for
// this tag's rotated files when Config.PreallocateFileSize is left at its
// zero value. The write-ahead log is appended to in small bursts and
// rotates often, so a large preallocation would mostly sit unused between
// rotations; checkpoint and eviction streams write bulk page images in
// much larger batches and benefit from a bigger contiguous extent.
func (t Tag) DefaultPreallocation() int64 {
	if t.LatencyCritical() {
		return 4 * 1024 * 1024
	}
	return 32 * 1024 * 1024
}

// DefaultFlushTimeout returns how long Store.Flush should wait for
// in-flight writes against the buffer being drained to finish before
// flushing it anyway. Log records are throttled and flushed on the
// replay-latency-sensitive path, so a swap should not sit waiting on a
// straggling writer for long; checkpoint and eviction flushes can afford
// to wait longer for a clean, complete buffer before it goes to disk.
func (t Tag) DefaultFlushTimeout() time.Duration {
	if t.LatencyCritical() {
		return 5 * time.Millisecond
	}
	return 20 * time.Millisecond
}
