package capacity

import (
	"context"
	"fmt"
	"time"
)

const flushPollInterval = 100 * time.Millisecond

// flushWorker is the background goroutine backing the flush coordinator.
// It holds no state of its own beyond its stop signal; all capacity
// counters live on the owning ConnectionCapacityState.
type flushWorker struct {
	stop chan struct{}
	done chan struct{}
}

// signal is the hot-path debounce check: it wakes the flush coordinator
// if capacityWritten has crossed the threshold and no wake is already
// outstanding. The read-then-act sequence is intentionally non-atomic —
// collapsing a burst of signals into one wake is fine; losing every real
// signal is not, and capacitySignalled being cleared only by the worker
// prevents that.
func (s *ConnectionCapacityState) signal() {
	s.collab.Stats.IncrCounter(StatSignalCalls)
	if s.capacityWritten.Load() >= s.capacityThreshold.Load() && !s.capacitySignalled.Load() {
		if s.cond != nil {
			s.cond.Signal()
		}
		s.capacitySignalled.Store(true)
		s.collab.Stats.IncrCounter(StatSignals)
	}
}

// startWorkerLocked spawns the flush coordinator goroutine. Callers must
// hold lifecycleMu and must have already torn down any prior worker.
func (s *ConnectionCapacityState) startWorkerLocked() {
	cond := NewCond()
	w := &flushWorker{stop: make(chan struct{}), done: make(chan struct{})}
	s.cond = cond
	s.worker = w
	go s.runFlushWorker(w, cond)
}

// runFlushWorker is the coordinator loop: wait up to flushPollInterval for
// a signal, check for shutdown, then sync if unsynced bytes have crossed
// the threshold.
func (s *ConnectionCapacityState) runFlushWorker(w *flushWorker, cond *Cond) {
	defer close(w.done)
	for {
		signalled := cond.WaitTimeout(flushPollInterval)
		if signalled {
			s.collab.Stats.IncrCounter(StatSignalled)
		} else {
			s.collab.Stats.IncrCounter(StatTimeout)
		}

		select {
		case <-w.stop:
			return
		default:
		}

		s.capacitySignalled.Store(false)

		if s.capacityWritten.Load() > s.capacityThreshold.Load() {
			if err := s.collab.Fsync.FsyncAllBackground(context.Background()); err != nil {
				s.collab.Panic.Panic(fmt.Errorf("capacity: flush coordinator fsync failed: %w", err))
				return
			}
			s.capacityWritten.Store(0)
		} else {
			s.collab.Stats.IncrCounter(StatFsyncNotYet)
		}
	}
}
