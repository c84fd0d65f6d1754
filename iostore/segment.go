package iostore

import (
	"fmt"
	"hash/crc32"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// headerOffset reserves the first bytes of each buffer for a segment
// header: byte 0 is the subsystem Tag, bytes 1-4 are the buffer's
// generation (bumped each time it is recycled), bytes 5-7 are unused.
// Unlike the teacher's shard header, which reserves these bytes but never
// writes them, this header is stamped on every (re)activation and flushed
// to disk with the record data, so a reader recovering a sealed segment
// file (see DecodeRecords) can recover which subsystem and generation
// produced it without consulting the filename.
const headerOffset = 8

// recordHeaderSize is the per-record framing: a 4-byte little-endian
// payload length, an 8-byte little-endian monotonic sequence number
// (scoped to the owning segment, not reset across buffer swaps), and a
// 4-byte little-endian CRC-32 (IEEE) of the payload. The sequence number
// and checksum have no analogue in the teacher's shard, which only ever
// framed raw log lines with a length prefix.
const recordHeaderSize = 4 + 8 + 4

// Record is one length-framed, checksummed entry recovered from a flushed
// segment buffer by DecodeRecords.
type Record struct {
	Seq     uint64
	Payload []byte
}

// Segment is a double-buffered append log: writers append to the active
// buffer lock-free, while the inactive buffer drains to disk. Swapping is
// CAS-protected so at most one flush can be in flight at a time. Every
// Segment belongs to exactly one capacity subsystem (its Tag) and hands out
// a monotonically increasing sequence number to every record it frames,
// so downstream consumers can detect gaps or reordering introduced by a
// partial flush.
type Segment struct {
	tag Tag

	bufferA []byte
	bufferB []byte

	activeBuffer atomic.Pointer[[]byte]

	offsetA atomic.Int32
	offsetB atomic.Int32

	capacity int32

	mu sync.Mutex

	swapping      atomic.Bool
	readyForFlush atomic.Bool

	inflightA atomic.Int64
	inflightB atomic.Int64

	generationA atomic.Uint32
	generationB atomic.Uint32

	nextSeq atomic.Uint64

	cleanupA func()
	cleanupB func()
}

// NewSegment allocates a double buffer of capacity bytes (rounded up to
// the page size) via anonymous mmap, tagged for the given subsystem.
func NewSegment(capacity int, tag Tag) (*Segment, error) {
	aligned := alignSize(capacity)

	bufferA, cleanupA, err := allocMmapBuffer(aligned)
	if err != nil {
		return nil, err
	}
	bufferB, cleanupB, err := allocMmapBuffer(aligned)
	if err != nil {
		cleanupA()
		unix.Munmap(bufferA)
		return nil, err
	}

	seg := &Segment{
		tag:      tag,
		bufferA:  bufferA,
		bufferB:  bufferB,
		capacity: int32(aligned),
		cleanupA: cleanupA,
		cleanupB: cleanupB,
	}
	seg.activeBuffer.Store(&seg.bufferA)
	seg.offsetA.Store(headerOffset)
	seg.offsetB.Store(headerOffset)
	writeBufferHeader(bufferA, tag, 0)
	writeBufferHeader(bufferB, tag, 0)
	return seg, nil
}

// Tag reports the subsystem this segment was created for.
func (s *Segment) Tag() Tag { return s.tag }

func allocMmapBuffer(size int) ([]byte, func(), error) {
	aligned := alignSize(size)
	data, err := unix.Mmap(-1, 0, aligned,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { runtime.KeepAlive(data) }
	runtime.SetFinalizer(&data, func(d *[]byte) {
		if d != nil && len(*d) > 0 {
			unix.Munmap(*d)
		}
	})
	return data, cleanup, nil
}

func alignSize(size int) int {
	const pageSize = 4096
	return ((size + pageSize - 1) / pageSize) * pageSize
}

// writeBufferHeader stamps buf's reserved header region with tag and
// generation, so the buffer identifies its own subsystem and recycle count
// once flushed to disk, independent of the Store's file naming.
func writeBufferHeader(buf []byte, tag Tag, generation uint32) {
	if len(buf) < headerOffset {
		return
	}
	buf[0] = byte(tag)
	putUint32LE(buf[1:5], generation)
	buf[5], buf[6], buf[7] = 0, 0, 0
}

// Write frames p as one record — a length prefix, a sequence number, and a
// CRC-32 of the payload — and appends it to the active buffer. It reports
// whether the segment is now ready to be flushed, either because it is
// full or because it crossed the 90% watermark.
func (s *Segment) Write(p []byte) (n int, needsFlush bool) {
	if len(p) == 0 {
		return 0, false
	}

	activeBufPtr := s.activeBuffer.Load()
	if activeBufPtr == nil {
		return 0, true
	}

	var offset *atomic.Int32
	if activeBufPtr == &s.bufferA {
		offset = &s.offsetA
	} else {
		offset = &s.offsetB
	}

	totalSize := recordHeaderSize + len(p)

	currentOffset := offset.Load()
	newOffset := currentOffset + int32(totalSize)

	if newOffset >= s.capacity {
		s.readyForFlush.Store(true)
		return 0, true
	}

	if !offset.CompareAndSwap(currentOffset, newOffset) {
		return s.Write(p)
	}

	activeBuf := *activeBufPtr
	if int(newOffset) > len(activeBuf) {
		offset.Store(currentOffset)
		s.readyForFlush.Store(true)
		return 0, true
	}

	var inflight *atomic.Int64
	if activeBufPtr == &s.bufferA {
		inflight = &s.inflightA
	} else {
		inflight = &s.inflightB
	}
	inflight.Add(1)

	seq := s.nextSeq.Add(1)
	crc := crc32.ChecksumIEEE(p)

	rec := activeBuf[currentOffset:newOffset]
	putUint32LE(rec[0:4], uint32(len(p)))
	putUint64LE(rec[4:12], seq)
	putUint32LE(rec[12:16], crc)
	copy(rec[recordHeaderSize:], p)

	inflight.Add(-1)

	if newOffset >= s.capacity*9/10 {
		s.readyForFlush.Store(true)
		return totalSize, true
	}
	return totalSize, false
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func getUint64LE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// DecodeRecords parses the record stream a flushed buffer holds (as
// returned by GetData, or as written to disk by Store.Flush, including its
// leading buffer header), verifying each record's CRC-32. It stops, without
// error, at the first zero-length or truncated trailing record — Reset
// never clears the bytes past the live offset, so the remainder of a
// recycled buffer is stale, not zero. A corrupt but fully-framed record
// (bad checksum) is reported as an error rather than silently skipped,
// since corruption this deep likely means the underlying file write was
// torn.
func DecodeRecords(buf []byte) ([]Record, error) {
	if len(buf) < headerOffset {
		return nil, nil
	}
	var records []Record
	off := headerOffset
	for off+recordHeaderSize <= len(buf) {
		length := getUint32LE(buf[off : off+4])
		if length == 0 {
			break
		}
		seq := getUint64LE(buf[off+4 : off+12])
		wantCRC := getUint32LE(buf[off+12 : off+16])

		start := off + recordHeaderSize
		end := start + int(length)
		if end > len(buf) {
			break
		}
		payload := buf[start:end]
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return records, fmt.Errorf("iostore: record %d failed checksum verification", seq)
		}
		records = append(records, Record{Seq: seq, Payload: payload})
		off = end
	}
	return records, nil
}

// PeekHeader reports the subsystem tag and generation stamped in buf's
// buffer header, without parsing any records. ok is false if buf is too
// short to hold a header.
func PeekHeader(buf []byte) (tag Tag, generation uint32, ok bool) {
	if len(buf) < headerOffset {
		return 0, 0, false
	}
	return Tag(buf[0]), getUint32LE(buf[1:5]), true
}

// TrySwap flips the active buffer, provided no swap is already in flight.
func (s *Segment) TrySwap() {
	if !s.swapping.CompareAndSwap(false, true) {
		return
	}
	defer s.swapping.Store(false)

	current := s.activeBuffer.Load()
	if current == nil {
		return
	}
	var next *[]byte
	if current == &s.bufferA {
		next = &s.bufferB
	} else {
		next = &s.bufferA
	}
	if !s.activeBuffer.CompareAndSwap(current, next) {
		return
	}
	s.readyForFlush.Store(true)
}

// GetData waits up to timeout for in-flight writes against the inactive
// buffer to drain, then returns its full-capacity slice. It reports false
// if the timeout elapsed first (the last in-flight write may be
// incomplete in the returned data).
func (s *Segment) GetData(timeout time.Duration) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	activeBufPtr := s.activeBuffer.Load()
	var inactiveBuf []byte
	var inflight *atomic.Int64
	if activeBufPtr == nil || activeBufPtr == &s.bufferA {
		inactiveBuf = s.bufferB
		inflight = &s.inflightB
	} else {
		inactiveBuf = s.bufferA
		inflight = &s.inflightA
	}
	if inactiveBuf == nil {
		return nil, false
	}

	deadline := time.Now().Add(timeout)
	const checkInterval = 50 * time.Microsecond
	for time.Now().Before(deadline) {
		if inflight.Load() == 0 {
			return inactiveBuf[:s.capacity], true
		}
		runtime.Gosched()
		time.Sleep(checkInterval)
	}
	return inactiveBuf[:s.capacity], false
}

// InactiveOffset returns the write offset of the buffer currently being
// drained.
func (s *Segment) InactiveOffset() int32 {
	activeBufPtr := s.activeBuffer.Load()
	if activeBufPtr == nil || activeBufPtr == &s.bufferA {
		return s.offsetB.Load()
	}
	return s.offsetA.Load()
}

// Reset clears the inactive buffer's offset and flush flag after its data
// has been durably written elsewhere, and bumps its generation so the next
// cycle of records flushed from this physical buffer can be told apart
// from the one just drained.
func (s *Segment) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	activeBufPtr := s.activeBuffer.Load()
	var inactiveBuf []byte
	var inactiveOffset *atomic.Int32
	var inflight *atomic.Int64
	var generation *atomic.Uint32
	if activeBufPtr == nil || activeBufPtr == &s.bufferA {
		inactiveBuf = s.bufferB
		inactiveOffset = &s.offsetB
		inflight = &s.inflightB
		generation = &s.generationB
	} else {
		inactiveBuf = s.bufferA
		inactiveOffset = &s.offsetA
		inflight = &s.inflightA
		generation = &s.generationA
	}
	inactiveOffset.Store(headerOffset)
	inflight.Store(0)
	s.readyForFlush.Store(false)
	gen := generation.Add(1)
	writeBufferHeader(inactiveBuf, s.tag, gen)
}

// IsFull reports whether the segment is ready to be flushed.
func (s *Segment) IsFull() bool { return s.readyForFlush.Load() }

// Offset returns the write offset of the active buffer.
func (s *Segment) Offset() int32 {
	activeBufPtr := s.activeBuffer.Load()
	if activeBufPtr == nil || activeBufPtr == &s.bufferA {
		return s.offsetA.Load()
	}
	return s.offsetB.Load()
}

// Capacity returns the (page-aligned) capacity of each buffer.
func (s *Segment) Capacity() int32 { return s.capacity }

// LastSequence returns the highest record sequence number this segment has
// handed out so far.
func (s *Segment) LastSequence() uint64 { return s.nextSeq.Load() }

// Close releases the mmap'd buffers.
func (s *Segment) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupA != nil {
		s.cleanupA()
	}
	if s.cleanupB != nil {
		s.cleanupB()
	}
	if len(s.bufferA) > 0 {
		unix.Munmap(s.bufferA)
	}
	if len(s.bufferB) > 0 {
		unix.Munmap(s.bufferB)
	}
}
