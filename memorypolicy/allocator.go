// allocator.go defines the device memory allocator abstraction. The
// allocator ceiling is process-global, last-writer-wins state with no
// cross-session arbitration; single-tenant, single-model-at-a-time use
// is assumed. Multi-tenant embedders should inject their own Allocator
// instead of using the package default.
package memorypolicy

import "sync"

// Allocator is the opaque device memory allocator this policy layer
// drives.
type Allocator interface {
	// SetCacheLimit caps the allocator's internal cache at the given
	// number of bytes.
	SetCacheLimit(bytes uint64)

	// ClearCache releases currently cached-but-unused device
	// allocations.
	ClearCache()

	// TotalMemory reports total physical memory visible to the device,
	// in bytes.
	TotalMemory() (uint64, error)

	// CacheUsage reports the allocator's current cache footprint in
	// bytes. Used by the pressure watcher.
	CacheUsage() (uint64, error)
}

var (
	deviceOnce sync.Once
	device     Allocator
)

// Device returns the process-global device allocator. The concrete
// implementation is selected at build time: the nvml build tag binds
// the real device, the default build binds a deterministic fake.
func Device() Allocator {
	deviceOnce.Do(func() {
		device = newDeviceAllocator()
	})
	return device
}
