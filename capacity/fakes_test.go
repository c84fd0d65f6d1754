package capacity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock is a controllable Clock: Now() returns a fixed instant until
// Advance moves it forward.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSleeper records every requested sleep instead of blocking, so tests
// run instantly while still observing throttle decisions. When clock is
// set, Sleep advances it by the requested duration, simulating the wall
// clock moving forward the way it would under a real sleep.
type fakeSleeper struct {
	mu    sync.Mutex
	sleep []time.Duration
	clock *fakeClock
}

func (s *fakeSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	s.sleep = append(s.sleep, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.Advance(d)
	}
}

func (s *fakeSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.sleep {
		total += d
	}
	return total
}

func (s *fakeSleeper) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleep)
}

// fakeFsync lets tests control whether a sync succeeds and count calls.
type fakeFsync struct {
	calls atomic.Int64
	err   error
	done  chan struct{}
}

func newFakeFsync() *fakeFsync {
	return &fakeFsync{done: make(chan struct{}, 16)}
}

func (f *fakeFsync) FsyncAllBackground(context.Context) error {
	f.calls.Add(1)
	select {
	case f.done <- struct{}{}:
	default:
	}
	return f.err
}

// fakePanic records a reported panic instead of crashing the test binary.
type fakePanic struct {
	mu  sync.Mutex
	err error
}

func (p *fakePanic) Panic(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePanic) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
