package capacity

import "fmt"

// WT_THROTTLE_MIN-equivalent: the smallest nonzero total capacity the
// binder accepts. The original header constant wasn't present in the
// retrieved source tree; 1 MiB/s is used here as a plausible minimum
// below which per-call reservations are too coarse to be useful (see
// DESIGN.md).
const minTotalCapacity = 1 << 20

const (
	pctCheckpoint = 10
	pctEviction   = 60
	pctLog        = 20
	pctRead       = 60
	pctThreshold  = 10
)

// Config is the single external configuration surface: a total I/O
// capacity in bytes per second. Zero disables throttling.
type Config struct {
	TotalBytesPerSec uint64
}

// Validate rejects a total in (0, minTotalCapacity); zero and anything at
// or above the minimum are accepted.
func (c Config) Validate() error {
	if c.TotalBytesPerSec != 0 && c.TotalBytesPerSec < minTotalCapacity {
		return fmt.Errorf("%w: total I/O capacity %d below minimum %d",
			ErrCapacityBelowMinimum, c.TotalBytesPerSec, minTotalCapacity)
	}
	return nil
}

// Configure binds cfg to the state: it derives per-subsystem capacities
// and the flush threshold from cfg.TotalBytesPerSec, then starts the
// flush coordinator (unless the state is read-only or the threshold is
// zero). Configure is always preceded by a teardown of any running
// coordinator, so reconfiguration is destructive rather than incremental.
func (s *ConnectionCapacityState) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.teardownLocked()

	total := cfg.TotalBytesPerSec
	s.capacityTotal.Store(total)

	var ckpt, evict, log, read uint64
	if total != 0 {
		ckpt = total * pctCheckpoint / 100
		evict = total * pctEviction / 100
		log = total * pctLog / 100
		read = total * pctRead / 100
	}
	s.capacityCkpt.Store(ckpt)
	s.capacityEvict.Store(evict)
	s.capacityLog.Store(log)
	s.capacityRead.Store(read)

	threshold := (ckpt + evict + log) * pctThreshold / 100
	s.capacityThreshold.Store(threshold)
	s.collab.Stats.SetGauge(StatThreshold, threshold)

	if threshold != 0 && !s.readonly.Load() {
		s.startWorkerLocked()
	}
	return nil
}

// Reconfigure is Configure under another name: both always tear down the
// running coordinator first, so there is no separate incremental path.
func (s *ConnectionCapacityState) Reconfigure(cfg Config) error {
	return s.Configure(cfg)
}
