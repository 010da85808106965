// Package shutdown coordinates graceful teardown of the host: it
// tracks in-flight generations, runs registered cleanup functions in
// priority order, and turns a second interrupt signal into a forced
// exit.
package shutdown

import (
	"errors"
	"sync"
	"time"
)

// ErrTrackerClosed is returned when starting an operation after shutdown began.
var ErrTrackerClosed = errors.New("operation tracker is closed")

// ErrWaitTimeout is returned when in-flight operations outlive the drain window.
var ErrWaitTimeout = errors.New("timed out waiting for in-flight operations")

// OperationTracker counts in-flight operations so shutdown can drain
// them. A generation can run for tens of seconds, so the drain window
// matters more here than in a typical request server.
type OperationTracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active int64
	closed bool
}

// NewOperationTracker returns a tracker accepting operations.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{}
}

// Start registers a new in-flight operation. Returns false once the
// tracker is closed; the caller must then reject the work. A true
// return obligates the caller to call Done.
func (t *OperationTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.active++
	t.wg.Add(1)
	return true
}

// Done marks one operation finished.
func (t *OperationTracker) Done() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
	t.wg.Done()
}

// Close stops the tracker from accepting new operations.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// IsClosed reports whether Close has been called.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ActiveCount returns the number of operations still in flight.
func (t *OperationTracker) ActiveCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Wait blocks until all in-flight operations finish or the timeout
// elapses, in which case ErrWaitTimeout is returned.
func (t *OperationTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}
