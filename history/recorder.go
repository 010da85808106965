package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdhost/session"
)

// DefaultQueueCapacity is the buffer size for pending run records.
const DefaultQueueCapacity = 100

// DefaultDrainTimeout is the maximum wait for pending writes at shutdown.
const DefaultDrainTimeout = 10 * time.Second

// AsyncRecorder decouples the generate path from SQLite latency. It
// implements session.Recorder with a non-blocking enqueue; a background
// goroutine drains the buffer into the Store. Records are dropped, with
// a log line, when the buffer is full: the ledger is diagnostic, never
// worth stalling a generation for.
type AsyncRecorder struct {
	store  *Store
	logger *zap.Logger

	queue   chan session.GenerationRecord
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// AsyncRecorderConfig holds tuning knobs for the recorder.
type AsyncRecorderConfig struct {
	QueueCapacity int
	DrainTimeout  time.Duration
}

// DefaultAsyncRecorderConfig returns the default configuration.
func DefaultAsyncRecorderConfig() AsyncRecorderConfig {
	return AsyncRecorderConfig{
		QueueCapacity: DefaultQueueCapacity,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// NewAsyncRecorder creates a recorder over the given store with default
// configuration. A nil logger falls back to zap.NewNop.
func NewAsyncRecorder(store *Store, logger *zap.Logger) *AsyncRecorder {
	return NewAsyncRecorderWithConfig(store, logger, DefaultAsyncRecorderConfig())
}

// NewAsyncRecorderWithConfig creates a recorder with explicit tuning.
func NewAsyncRecorderWithConfig(store *Store, logger *zap.Logger, cfg AsyncRecorderConfig) *AsyncRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncRecorder{
		store:  store,
		logger: logger,
		queue:  make(chan session.GenerationRecord, cfg.QueueCapacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the background writer. Safe to call more than once.
func (r *AsyncRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.process()
}

func (r *AsyncRecorder) process() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case rec := <-r.queue:
			r.write(rec)
		}
	}
}

// drain flushes whatever is still buffered after cancellation.
func (r *AsyncRecorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		default:
			return
		}
	}
}

func (r *AsyncRecorder) write(rec session.GenerationRecord) {
	if _, err := r.store.Insert(rec); err != nil {
		r.logger.Warn("failed to persist run record",
			zap.String("session_id", rec.SessionID),
			zap.Error(err))
	}
}

// RecordGeneration queues one record without blocking. The session
// calls this synchronously on the generate path, so it must return
// immediately even when SQLite is slow.
func (r *AsyncRecorder) RecordGeneration(rec session.GenerationRecord) {
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("run ledger queue full, dropping record",
			zap.String("session_id", rec.SessionID),
			zap.String("model_id", rec.ModelID))
	}
}

// Pending returns the number of buffered records.
func (r *AsyncRecorder) Pending() int {
	return len(r.queue)
}

// Stop cancels the background writer and waits for the drain to finish.
func (r *AsyncRecorder) Stop() {
	r.cancel()
	r.wg.Wait()
}

// StopWithTimeout stops the recorder with a bounded wait. Returns false
// if the drain did not complete in time.
func (r *AsyncRecorder) StopWithTimeout(timeout time.Duration) bool {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
