package capacity

// teardownLocked stops any running flush coordinator and resets the
// signal state to a blank slate. Callers must hold lifecycleMu. Safe to
// call when no worker is running.
func (s *ConnectionCapacityState) teardownLocked() {
	if s.worker == nil {
		return
	}
	close(s.worker.stop)
	if s.cond != nil {
		s.cond.Signal()
	}
	<-s.worker.done
	s.worker = nil
	s.cond = nil
	s.capacitySignalled.Store(false)
}

// Close tears down the flush coordinator and zeroes every capacity field,
// leaving the state ready either for a subsequent Configure or for
// disposal. Close is idempotent.
func (s *ConnectionCapacityState) Close() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.teardownLocked()

	s.capacityTotal.Store(0)
	s.capacityCkpt.Store(0)
	s.capacityEvict.Store(0)
	s.capacityLog.Store(0)
	s.capacityRead.Store(0)
	s.capacityThreshold.Store(0)
	s.capacityWritten.Store(0)
	return nil
}
