// Package task runs the background goroutines that carry asynchronous DAQ operations.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-daq/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task manager stopped")

// Func is the body of a background task. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

// DoneFunc receives the outcome of a task. A panic inside the task body is converted into an
// error, so DoneFunc is always called exactly once per started task.
type DoneFunc func(err error)

// Manager manages the lifecycle of background tasks.
//
// Tasks share a context derived from the parent context given to NewManager. Stop cancels it,
// and Wait blocks until every started task returned.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Go("kickoff", func(ctx context.Context) error {
//	    // ... poll and issue begin ...
//	    return nil
//	}, func(err error) {
//	    // ... resolve the status ...
//	})
//
//	mgr.Stop()
//	_ = mgr.Wait(closeCtx)
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect stopped and wg.Add against Stop
	stop   bool
}

// NewManager creates a Manager whose tasks are canceled when ctx is done.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Go starts fn on a new goroutine. onDone, if not nil, receives the result of fn.
//
// It returns ErrStopped without running anything once Stop has been called.
func (mgr *Manager) Go(name string, fn Func, onDone DoneFunc) error {
	mgr.mu.RLock()
	if mgr.stop {
		mgr.mu.RUnlock()
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}
	mgr.wg.Add(1)
	mgr.count.Add(1)
	mgr.mu.RUnlock()

	mgr.logger.Debug("start task", "name", name, "task_count", mgr.TaskCount())

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
			mgr.wg.Done()
		}()

		err := mgr.run(name, fn)
		if onDone != nil {
			onDone(err)
		}
	}()

	return nil
}

// run calls fn with panic protection.
func (mgr *Manager) run(name string, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()

	return fn(mgr.ctx)
}

// Stop cancels the context shared by all tasks and rejects new tasks.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mgr.stop = true
	mgr.cancel()
}

// Stopped reports whether Stop has been called.
func (mgr *Manager) Stopped() bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.stop
}

// Wait blocks until all tasks returned or ctx is done.
func (mgr *Manager) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %d tasks: %w", mgr.TaskCount(), ctx.Err())
	}
}

// TaskCount returns the number of running tasks.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// Poll evaluates cond immediately and then every interval until it returns true, the timeout
// elapses or ctx is done. A timeout <= 0 polls until ctx is done.
//
// It returns true as soon as cond returns true, false otherwise.
func Poll(ctx context.Context, interval time.Duration, timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}
