// Package status provides Status, a one-shot future describing the outcome of a single
// asynchronous operation such as a DAQ kickoff or an end of run.
//
// A Status starts pending and is resolved exactly once, either successfully or with a failure
// cause. Callers may block on it with Wait or WaitContext, select on Done, or register callbacks
// with AddCallback. The goroutine performing the operation holds the only writer role: it calls
// Succeed, Fail or Resolve once the side effects of the operation have been issued.
//
// Ordering guarantees:
//   - callbacks registered before resolution run synchronously inside the resolving call, in
//     registration order, and have all returned before Done is closed;
//   - callbacks registered while the resolving call is still running callbacks are queued and
//     run by it after the earlier ones, in registration order;
//   - callbacks registered after Done is closed run immediately in the registering goroutine;
//   - Wait, WaitContext and Done observe resolution only after every pending callback returned.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOperationFailed indicates that the operation tracked by a Status resolved unsuccessfully.
	// The error returned by Wait wraps both ErrOperationFailed and the failure cause, if any.
	ErrOperationFailed = errors.New("operation failed")

	// ErrOperationTimedOut indicates that a wait elapsed before the Status was resolved.
	ErrOperationTimedOut = errors.New("operation timed out")
)

// Callback is invoked once when a Status is resolved.
type Callback func(st *Status)

// Status represents one pending or completed asynchronous operation.
type Status struct {
	id   string
	name string

	mu        sync.Mutex
	resolved  bool
	success   bool
	err       error
	callbacks []Callback
	fired     bool // all queued callbacks returned
	done      chan struct{}
}

// New creates a pending Status for the named operation.
func New(name string) *Status {
	return &Status{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
}

// Succeeded returns an already successful Status.
func Succeeded(name string) *Status {
	st := New(name)
	st.Succeed()

	return st
}

// Failed returns a Status already resolved with the given failure cause.
func Failed(name string, err error) *Status {
	st := New(name)
	st.Fail(err)

	return st
}

// ID returns the unique identifier of the status, used to correlate log records.
func (s *Status) ID() string { return s.id }

// Name returns the operation name given to New.
func (s *Status) Name() string { return s.name }

// Succeed resolves the status successfully. See Resolve.
func (s *Status) Succeed() bool {
	return s.finish(true, nil)
}

// Fail resolves the status as failed with the given cause. A nil cause is allowed.
// See Resolve.
func (s *Status) Fail(err error) bool {
	return s.finish(false, err)
}

// Resolve marks the status done with the given outcome and invokes every registered callback
// synchronously in registration order.
//
// Only the first resolution takes effect; it returns true. Later calls are no-ops returning false.
func (s *Status) Resolve(success bool) bool {
	return s.finish(success, nil)
}

func (s *Status) finish(success bool, err error) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved = true
	s.success = success
	if !success {
		s.err = err
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		callbacks := s.callbacks
		s.callbacks = nil
		if len(callbacks) == 0 {
			s.fired = true
			s.mu.Unlock()

			break
		}
		s.mu.Unlock()

		for _, cb := range callbacks {
			cb(s)
		}
	}
	close(s.done)

	return true
}

// AddCallback registers cb to be invoked on resolution. Once the callbacks of the resolving call
// have all returned, cb is invoked immediately in the calling goroutine.
func (s *Status) AddCallback(cb Callback) {
	if cb == nil {
		return
	}

	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		cb(s)

		return
	}
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// Done returns a channel closed once the status is resolved and its callbacks returned.
func (s *Status) Done() <-chan struct{} {
	return s.done
}

// IsDone reports whether the status is resolved and its callbacks returned.
func (s *Status) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Success reports whether the status resolved successfully. It is false while pending.
func (s *Status) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resolved && s.success
}

// Err returns the failure cause of a failed status, nil otherwise.
func (s *Status) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Wait blocks until the status is resolved or the timeout elapses.
// A timeout <= 0 waits without limit.
//
// It returns nil on success, an error wrapping ErrOperationFailed on failure, and
// ErrOperationTimedOut when the timeout elapses first.
func (s *Status) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		return s.WaitContext(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.WaitContext(ctx)
}

// WaitContext blocks until the status is resolved or ctx is done.
//
// An expired ctx deadline is reported as ErrOperationTimedOut; other cancellations return
// ctx.Err().
func (s *Status) WaitContext(ctx context.Context) error {
	select {
	case <-s.done:
		return s.result()
	default:
	}

	select {
	case <-s.done:
		return s.result()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", s.name, s.id, ErrOperationTimedOut)
		}
		return ctx.Err()
	}
}

func (s *Status) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.success {
		return nil
	}
	if s.err != nil {
		return fmt.Errorf("%s %s: %w: %w", s.name, s.id, ErrOperationFailed, s.err)
	}

	return fmt.Errorf("%s %s: %w", s.name, s.id, ErrOperationFailed)
}

// String returns a short description such as "kickoff(pending)".
func (s *Status) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.resolved:
		return s.name + "(pending)"
	case s.success:
		return s.name + "(succeeded)"
	default:
		return s.name + "(failed)"
	}
}
