// Package cmn provides low-level types and utilities shared by every
// component of the download engine: assertions, a single error-reporting
// sink, and the cooperative-concurrency primitives (semaphore, stop
// channel, timeout group) that the rate limiter, downloader and shutdown
// coordinator all build on.
package cmn

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type (
	// TimeoutGroup is similar to sync.WaitGroup with the difference on Wait
	// where we only allow timing out.
	//
	// WARNING: It is not safe to wait on completion from multiple goroutines.
	TimeoutGroup struct {
		jobsLeft  atomic.Int32
		postedFin atomic.Int32
		fin       chan struct{}
	}

	// StopCh is a specialized channel for broadcasting a single stop signal.
	StopCh struct {
		once sync.Once
		ch   chan struct{}
	}

	// DynSemaphore is a semaphore whose size can change while in use via
	// SetSize. It backs LimitedWaitGroup, which the per-course downloader
	// uses with a fixed size; nothing in this module resizes it mid-run.
	DynSemaphore struct {
		size int
		cur  int
		c    *sync.Cond
		mu   sync.Mutex
	}

	// LimitedWaitGroup combines a WaitGroup with a DynSemaphore to cap the
	// number of goroutines in flight at any one time.
	LimitedWaitGroup struct {
		wg   *sync.WaitGroup
		sema *DynSemaphore
	}
)

func NewTimeoutGroup() *TimeoutGroup {
	return &TimeoutGroup{fin: make(chan struct{}, 1)}
}

func (tg *TimeoutGroup) Add(delta int) { tg.jobsLeft.Add(int32(delta)) }

// Wait blocks until all jobs are done.
//
// NOTE: Wait must only be invoked after all Adds.
func (tg *TimeoutGroup) Wait() {
	tg.WaitTimeoutWithStop(24*time.Hour, nil)
}

// WaitTimeout blocks until all jobs are done or the timeout elapses,
// returning true on timeout.
func (tg *TimeoutGroup) WaitTimeout(timeout time.Duration) bool {
	timed, _ := tg.WaitTimeoutWithStop(timeout, nil)
	return timed
}

// WaitTimeoutWithStop blocks until all jobs are done, the timeout elapses,
// or stop is closed. A nil stop channel behaves like WaitTimeout.
func (tg *TimeoutGroup) WaitTimeoutWithStop(timeout time.Duration, stop <-chan struct{}) (timed, stopped bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tg.fin:
		tg.postedFin.Store(0)
		return false, false
	case <-t.C:
		return true, false
	case <-stop:
		return false, true
	}
}

// Done decrements the number of jobs left. Asserts the counter never goes
// negative.
func (tg *TimeoutGroup) Done() {
	left := tg.jobsLeft.Dec()
	Assert(left >= 0, "jobs left went negative")
	if left == 0 {
		if posted := tg.postedFin.Swap(1); posted == 0 {
			tg.fin <- struct{}{}
		}
	}
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

func (sc *StopCh) Listen() <-chan struct{} { return sc.ch }

func (sc *StopCh) Close() {
	sc.once.Do(func() { close(sc.ch) })
}

func (sc *StopCh) IsClosed() bool {
	select {
	case <-sc.ch:
		return true
	default:
		return false
	}
}

func NewDynSemaphore(n int) *DynSemaphore {
	sema := &DynSemaphore{size: n}
	sema.c = sync.NewCond(&sema.mu)
	return sema
}

func (s *DynSemaphore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *DynSemaphore) SetSize(n int) {
	Assert(n >= 1, "semaphore size must be positive")
	s.mu.Lock()
	s.size = n
	s.mu.Unlock()
	s.c.Broadcast()
}

func (s *DynSemaphore) Acquire(cnts ...int) {
	cnt := 1
	if len(cnts) > 0 {
		cnt = cnts[0]
	}
	s.mu.Lock()
	for s.cur+cnt > s.size {
		s.c.Wait()
	}
	s.cur += cnt
	s.mu.Unlock()
}

func (s *DynSemaphore) Release(cnts ...int) {
	cnt := 1
	if len(cnts) > 0 {
		cnt = cnts[0]
	}
	s.mu.Lock()
	Assert(s.cur >= cnt, "semaphore released more than acquired")
	s.cur -= cnt
	s.c.Signal()
	s.mu.Unlock()
}

func NewLimitedWaitGroup(n int) *LimitedWaitGroup {
	return &LimitedWaitGroup{wg: &sync.WaitGroup{}, sema: NewDynSemaphore(n)}
}

func (wg *LimitedWaitGroup) Add(n int) {
	wg.wg.Add(n)
	wg.sema.Acquire(n)
}

func (wg *LimitedWaitGroup) Done() {
	wg.wg.Done()
	wg.sema.Release()
}

func (wg *LimitedWaitGroup) Wait() { wg.wg.Wait() }
