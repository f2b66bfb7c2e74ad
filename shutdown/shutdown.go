// Package shutdown implements the shutdown coordinator: a
// single-instance lock file, signal-driven graceful drain on the first
// interrupt, and a forced exit on the second, plus a startup GC pass
// over temp files orphaned by a prior hard cancellation.
package shutdown

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/golang/glog"

	"github.com/emily3403/isisdl-go/cmn"
	"github.com/emily3403/isisdl-go/layout"
	"github.com/emily3403/isisdl-go/ratelimit"
)

// cleanup is one registered teardown step. Lower priority runs first,
// as an explicit table instead of registration-order-implies-priority.
type cleanup struct {
	priority int
	name     string
	fn       func()
}

// Coordinator owns the process's stop flag, lock file, and the ordered
// set of cleanup steps run on first signal.
type Coordinator struct {
	lay     layout.Layout
	stop    *cmn.StopCh
	limiter *ratelimit.Limiter

	mu       sync.Mutex
	cleanups []cleanup
	lockFile *os.File
	sigCh    chan os.Signal
}

// New builds a Coordinator for the given working directory. Call
// AcquireLock before Watch for any mutating run.
func New(lay layout.Layout, limiter *ratelimit.Limiter) *Coordinator {
	return &Coordinator{
		lay:     lay,
		stop:    cmn.NewStopCh(),
		limiter: limiter,
	}
}

// Stop returns the process-wide stop flag; downstream components (the
// downloader, the pump loop) poll IsClosed() between suspension points.
func (c *Coordinator) Stop() *cmn.StopCh { return c.stop }

// Register adds a teardown step run, in ascending priority order, once
// the first signal is observed.
func (c *Coordinator) Register(priority int, name string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, cleanup{priority: priority, name: name, fn: fn})
}

// AcquireLock creates the process-wide lock file, failing if one
// already exists. Lock acquisition is mandatory for mutating runs. The
// file's contents are a human-readable pid line, never parsed back.
func (c *Coordinator) AcquireLock() error {
	path := c.lay.LockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return cmn.WrapError(cmn.ErrFatal, err, "lock file %s held by another run", path)
	}
	fmtWritePID(f)
	c.lockFile = f
	return nil
}

// ReleaseLock removes the lock file. Safe to call even if AcquireLock
// was never called.
func (c *Coordinator) ReleaseLock() {
	if c.lockFile == nil {
		return
	}
	c.lockFile.Close()
	os.Remove(c.lay.LockPath())
}

// Watch installs signal handlers and blocks in a goroutine: on the
// first interrupt/terminate/hangup it sets the stop flag, stops the
// limiter's refill task, and runs every registered cleanup in priority
// order, then exits 0. On the second, it skips drainage and exits with
// the received signal's numeric code.
func (c *Coordinator) Watch() {
	c.sigCh = make(chan os.Signal, 2)
	notify(c.sigCh)

	go func() {
		received := 0
		for sig := range c.sigCh {
			received++
			if received == 1 {
				glog.Warningf("shutdown: received %v, draining", sig)
				c.stop.Close()
				if c.limiter != nil {
					c.limiter.Stop()
				}
				go func() {
					c.runCleanups()
					c.ReleaseLock()
					os.Exit(0)
				}()
				continue
			}
			glog.Errorf("shutdown: received second %v, forcing exit", sig)
			c.ReleaseLock()
			os.Exit(signalExitCode(sig))
		}
	}()
}

func (c *Coordinator) runCleanups() {
	c.mu.Lock()
	ordered := make([]cleanup, len(c.cleanups))
	copy(ordered, c.cleanups)
	c.mu.Unlock()

	sortByPriority(ordered)
	for _, cu := range ordered {
		glog.Infof("shutdown: running cleanup %s", cu.name)
		cu.fn()
	}
}

func sortByPriority(cs []cleanup) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].priority < cs[j-1].priority; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// Close stops listening for signals without forcing an exit, used by
// tests and by a clean top-level return.
func (c *Coordinator) Close() {
	signal.Stop(c.sigCh)
	close(c.sigCh)
}

func fmtWritePID(f *os.File) {
	f.WriteString("pid=" + strconv.Itoa(os.Getpid()) + "\n")
}
