package capacity

import (
	"sync"
	"sync/atomic"
)

// subsystem bundles the two atomic counters a Tag dispatches to: the
// per-second byte budget and the next-available-time reservation.
type subsystem struct {
	capacity    *atomic.Uint64
	reservation *atomic.Uint64
}

// ConnectionCapacityState is the throttle core for one storage handle. The
// zero value is not usable; build one with NewState and bind it with
// Configure before calling Throttle.
type ConnectionCapacityState struct {
	collab Collaborators

	capacityTotal     atomic.Uint64
	capacityCkpt      atomic.Uint64
	capacityEvict     atomic.Uint64
	capacityLog       atomic.Uint64
	capacityRead      atomic.Uint64
	capacityThreshold atomic.Uint64

	reservationTotal atomic.Uint64
	reservationCkpt  atomic.Uint64
	reservationEvict atomic.Uint64
	reservationLog   atomic.Uint64
	reservationRead  atomic.Uint64

	capacityWritten  atomic.Uint64
	capacitySignalled atomic.Bool

	readonly   atomic.Bool
	recovering atomic.Bool

	// lifecycleMu guards configure/reconfigure/close against each other;
	// it never guards the Throttle hot path.
	lifecycleMu sync.Mutex

	cond   *Cond
	worker *flushWorker
}

// NewState builds a ConnectionCapacityState bound to collab. Any nil field
// in collab is filled with a production-safe default. The returned state
// has all capacities at zero (throttling disabled) until Configure is
// called.
func NewState(collab Collaborators) *ConnectionCapacityState {
	s := &ConnectionCapacityState{collab: collab.withDefaults()}
	return s
}

// SetRecovering toggles the recovery bypass flag described in the data
// model: while set, Throttle returns immediately regardless of capacity.
func (s *ConnectionCapacityState) SetRecovering(v bool) { s.recovering.Store(v) }

// SetReadOnly toggles the read-only flag. A read-only handle never starts
// the flush coordinator on Configure.
func (s *ConnectionCapacityState) SetReadOnly(v bool) { s.readonly.Store(v) }

// subsystemFor dispatches a Tag to its (capacity, reservation) pair.
func (s *ConnectionCapacityState) subsystemFor(t Tag) subsystem {
	switch t {
	case Checkpoint:
		return subsystem{&s.capacityCkpt, &s.reservationCkpt}
	case Eviction:
		return subsystem{&s.capacityEvict, &s.reservationEvict}
	case Log:
		return subsystem{&s.capacityLog, &s.reservationLog}
	case Read:
		return subsystem{&s.capacityRead, &s.reservationRead}
	default:
		panic("capacity: invalid tag")
	}
}

// Stats returns a snapshot of every statistic recorded so far, when the
// bound Stats collaborator supports snapshotting (the default MemoryStats
// does); other collaborators return nil.
func (s *ConnectionCapacityState) Stats() map[string]uint64 {
	if snap, ok := s.collab.Stats.(interface{ Snapshot() map[string]uint64 }); ok {
		return snap.Snapshot()
	}
	return nil
}
