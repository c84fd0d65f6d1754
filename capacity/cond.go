package capacity

import (
	"sync"
	"time"
)

// Cond is a broadcastable condition variable with a timed wait, which
// sync.Cond does not offer. Signal is implemented as close-and-replace on
// an internal channel so a waiter blocked in WaitTimeout always observes
// either the signal or its own timeout, never neither.
type Cond struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewCond returns a ready-to-use Cond.
func NewCond() *Cond {
	return &Cond{ch: make(chan struct{})}
}

// Signal wakes every goroutine currently blocked in WaitTimeout.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.ch)
	c.ch = make(chan struct{})
}

// WaitTimeout blocks until Signal is called or timeout elapses, whichever
// comes first. It reports true if it woke because of a signal.
func (c *Cond) WaitTimeout(timeout time.Duration) (signalled bool) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
