//go:build !nvml || !cgo

// Stub device allocator for builds without NVML.
// Build with: go build (no tags needed)
//
// Total memory defaults to 32 GiB and can be overridden with
// SDHOST_FAKE_TOTAL_MEMORY_GIB, which keeps CLI demos and tests
// deterministic on any machine.

package memorypolicy

import (
	"os"
	"strconv"
	"sync"
)

const defaultFakeTotalGiB = 32

// fakeAllocator is an in-memory allocator stand-in. It tracks the
// ceiling and a synthetic cache footprint so the policy and pressure
// watcher paths are fully exercisable without a device.
type fakeAllocator struct {
	mu       sync.Mutex
	total    uint64
	limit    uint64
	limitSet bool
	usage    uint64
	clears   int
}

func newDeviceAllocator() Allocator {
	total := uint64(defaultFakeTotalGiB) * GiB
	if s := os.Getenv("SDHOST_FAKE_TOTAL_MEMORY_GIB"); s != "" {
		if gib, err := strconv.ParseUint(s, 10, 64); err == nil && gib > 0 {
			total = gib * GiB
		}
	}
	return &fakeAllocator{total: total}
}

func (a *fakeAllocator) SetCacheLimit(bytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = bytes
	a.limitSet = true
}

func (a *fakeAllocator) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = 0
	a.clears++
}

func (a *fakeAllocator) TotalMemory() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, nil
}

func (a *fakeAllocator) CacheUsage() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, nil
}
