package capacity

import "sync/atomic"

const nanosPerSecond = uint64(1_000_000_000)

// subUint64 computes a-b on a uint64 via two's complement, matching the
// unsigned-subtraction semantics the reservation arithmetic depends on
// (atomic.Uint64 only exposes Add).
func subUint64(a *atomic.Uint64, b uint64) uint64 {
	return a.Add(^(b - 1))
}

// slotNs converts a byte count to its nanosecond-equivalent slot length at
// the given per-second byte capacity. capacity == 0 is the caller's
// responsibility to special-case; this never divides by zero.
func slotNs(bytes, capacity uint64) uint64 {
	if capacity == 0 {
		return 0
	}
	return bytes * nanosPerSecond / capacity
}

// reserve implements the reservation arithmetic: it books slotNs(bytes,
// capacity) nanoseconds onto counter and returns the deadline at which the
// caller's slot ends. capacity == 0 means the subsystem is unbounded and
// the counter is left untouched.
//
// When the counter has fallen more than a second behind nowNs, it is
// lazily rebased forward so an idle subsystem cannot accumulate an
// unbounded burst credit.
func (s *ConnectionCapacityState) reserve(counter *atomic.Uint64, bytes, capacity, nowNs uint64) uint64 {
	if capacity == 0 {
		return nowNs
	}
	slot := slotNs(bytes, capacity)
	res := counter.Add(slot)
	if nowNs > res && nowNs-res > nanosPerSecond {
		rebased := nowNs - nanosPerSecond + slot
		counter.Store(rebased)
		s.collab.Verbose.Event(VerboseTemporary,
			"capacity: rebasing reservation from %d to %d (now=%d)", res, rebased, nowNs)
		res = rebased
	}
	return res
}
