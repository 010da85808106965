// Package metrics provides the device-memory pressure watcher. It
// periodically samples the device allocator's cache footprint, retains
// a circular history, and fires a callback when usage crosses a
// high-water mark. That callback is the memory-pressure signal that
// drives memorypolicy.ClearCache.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdhost/logging"
	"sdhost/memorypolicy"
)

// Sample is one observation of the allocator's cache footprint.
type Sample struct {
	Timestamp  time.Time
	UsageBytes uint64
}

// WatcherConfig configures the pressure watcher.
type WatcherConfig struct {
	// SampleInterval is how often to sample the allocator.
	SampleInterval time.Duration

	// HistorySize is the number of samples retained.
	HistorySize int

	// LimitBytes is the reference ceiling for pressure detection.
	// When zero, the allocator's total memory is used instead.
	LimitBytes uint64

	// PressureFraction is the usage/limit ratio at and above which the
	// watcher signals pressure. Edge triggered: the callback fires on
	// the crossing, then not again until usage drops below the mark.
	PressureFraction float64
}

// DefaultWatcherConfig returns a configuration sampling every 5
// seconds with an hour of history and a 90% high-water mark.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		SampleInterval:   5 * time.Second,
		HistorySize:      720, // 1 hour at 5s intervals
		PressureFraction: 0.90,
	}
}

// Watcher samples a device allocator on an interval.
//
// Adapted collector shape: injected reader, circular history buffer,
// Start/Stop goroutine lifecycle. The callback runs on the sampling
// goroutine; keep it short.
type Watcher struct {
	mu sync.RWMutex

	config WatcherConfig
	alloc  memorypolicy.Allocator
	logger *zap.Logger

	onPressure func(Sample)

	// Circular history buffer
	history  []Sample
	histHead int
	histSize int

	lastErr       error
	abovePressure bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher over alloc. onPressure may be nil for a
// sample-only watcher; logger may be nil.
func NewWatcher(alloc memorypolicy.Allocator, config WatcherConfig, onPressure func(Sample), logger *zap.Logger) *Watcher {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultWatcherConfig().SampleInterval
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultWatcherConfig().HistorySize
	}
	if config.PressureFraction <= 0 || config.PressureFraction > 1 {
		config.PressureFraction = DefaultWatcherConfig().PressureFraction
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		config:     config,
		alloc:      alloc,
		logger:     logger,
		onPressure: onPressure,
		history:    make([]Sample, config.HistorySize),
	}
}

// Start launches the sampling goroutine. Stop with Stop or by
// cancelling ctx.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.config.SampleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.SampleNow()
			}
		}
	}()
}

// Stop halts sampling and waits for the goroutine to exit. Safe to
// call without Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// SampleNow takes one sample immediately, records it, and runs
// pressure detection. Returns the sample and any probe error.
func (w *Watcher) SampleNow() (Sample, error) {
	usage, err := w.alloc.CacheUsage()
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		w.logger.Warn("allocator usage probe failed", zap.Error(err))
		return Sample{}, err
	}

	sample := Sample{Timestamp: time.Now(), UsageBytes: usage}

	limit, err := w.pressureLimit()
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.recordLocked(sample)
		w.mu.Unlock()
		return sample, err
	}

	var fire bool
	w.mu.Lock()
	w.lastErr = nil
	w.recordLocked(sample)

	above := limit > 0 && float64(usage) >= w.config.PressureFraction*float64(limit)
	fire = above && !w.abovePressure && w.onPressure != nil
	w.abovePressure = above
	w.mu.Unlock()

	if fire {
		w.logger.Warn("device memory pressure",
			logging.MemoryFields(usage, limit)...)
		w.onPressure(sample)
	}
	return sample, nil
}

// pressureLimit resolves the reference ceiling.
func (w *Watcher) pressureLimit() (uint64, error) {
	if w.config.LimitBytes > 0 {
		return w.config.LimitBytes, nil
	}
	return w.alloc.TotalMemory()
}

// recordLocked appends a sample to the circular buffer. Caller holds
// w.mu.
func (w *Watcher) recordLocked(s Sample) {
	w.history[w.histHead] = s
	w.histHead = (w.histHead + 1) % len(w.history)
	if w.histSize < len(w.history) {
		w.histSize++
	}
}

// History returns retained samples, oldest first.
func (w *Watcher) History() []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Sample, 0, w.histSize)
	start := w.histHead - w.histSize
	if start < 0 {
		start += len(w.history)
	}
	for i := 0; i < w.histSize; i++ {
		out = append(out, w.history[(start+i)%len(w.history)])
	}
	return out
}

// LastError returns the most recent probe error, nil after a
// successful sample.
func (w *Watcher) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}
