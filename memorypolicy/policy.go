// Package memorypolicy maps system memory size to a device allocator
// cache ceiling and applies it. Pure and stateless apart from the
// process-global allocator it is pointed at; called rarely (process
// start, memory-pressure signals).
package memorypolicy

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Preset names a rung on the cache-ceiling ladder.
type Preset int

const (
	PresetLowMemory Preset = iota
	PresetStandard
	PresetHighMemory
	PresetVeryHighMemory
	PresetMaximum
	// PresetUnlimited leaves the allocator ceiling unset.
	PresetUnlimited
	// PresetCustom uses Policy.CustomBytes as the exact ceiling.
	PresetCustom
)

// String returns the preset's configuration name.
func (p Preset) String() string {
	switch p {
	case PresetLowMemory:
		return "lowMemory"
	case PresetStandard:
		return "standard"
	case PresetHighMemory:
		return "highMemory"
	case PresetVeryHighMemory:
		return "veryHighMemory"
	case PresetMaximum:
		return "maximum"
	case PresetUnlimited:
		return "unlimited"
	case PresetCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePreset parses a preset name as produced by String.
func ParsePreset(s string) (Preset, error) {
	switch s {
	case "lowMemory", "low":
		return PresetLowMemory, nil
	case "", "standard":
		return PresetStandard, nil
	case "highMemory", "high":
		return PresetHighMemory, nil
	case "veryHighMemory", "veryHigh":
		return PresetVeryHighMemory, nil
	case "maximum", "max":
		return PresetMaximum, nil
	case "unlimited":
		return PresetUnlimited, nil
	case "custom":
		return PresetCustom, nil
	default:
		return 0, fmt.Errorf("memorypolicy: unknown preset %q", s)
	}
}

// Policy is a preset plus the explicit ceiling used by PresetCustom.
type Policy struct {
	Preset      Preset
	CustomBytes uint64
}

// Threshold ladder for RecommendedPreset, in bytes.
const (
	GiB = uint64(1) << 30

	thresholdStandard = 16 * GiB
	thresholdHigh     = 32 * GiB
	thresholdVeryHigh = 64 * GiB
	thresholdMaximum  = 128 * GiB
)

// Ceiling fractions per preset, expressed as percent of total memory.
// Larger machines can afford to dedicate a larger share to the device
// allocator's cache without starving the host.
const (
	fractionLowMemory      = 12
	fractionStandard       = 25
	fractionHighMemory     = 33
	fractionVeryHighMemory = 40
	fractionMaximum        = 50
)

// RecommendedPreset maps total physical memory to a preset via a
// fixed, non-overlapping threshold ladder:
//
//	< 16 GiB          -> lowMemory
//	[16 GiB, 32 GiB)  -> standard
//	[32 GiB, 64 GiB)  -> highMemory
//	[64 GiB, 128 GiB) -> veryHighMemory
//	>= 128 GiB        -> maximum
//
// This is a pure function.
func RecommendedPreset(totalBytes uint64) Preset {
	switch {
	case totalBytes < thresholdStandard:
		return PresetLowMemory
	case totalBytes < thresholdHigh:
		return PresetStandard
	case totalBytes < thresholdVeryHigh:
		return PresetHighMemory
	case totalBytes < thresholdMaximum:
		return PresetVeryHighMemory
	default:
		return PresetMaximum
	}
}

// CeilingBytes resolves a policy to a concrete cache ceiling given the
// total physical memory. ok is false for PresetUnlimited, meaning the
// ceiling should be left unset.
func CeilingBytes(p Policy, totalBytes uint64) (bytes uint64, ok bool) {
	switch p.Preset {
	case PresetUnlimited:
		return 0, false
	case PresetCustom:
		return p.CustomBytes, true
	case PresetLowMemory:
		return totalBytes * fractionLowMemory / 100, true
	case PresetHighMemory:
		return totalBytes * fractionHighMemory / 100, true
	case PresetVeryHighMemory:
		return totalBytes * fractionVeryHighMemory / 100, true
	case PresetMaximum:
		return totalBytes * fractionMaximum / 100, true
	default:
		return totalBytes * fractionStandard / 100, true
	}
}

// ApplyPolicy resolves p against the allocator's total memory and sets
// the process-wide cache ceiling. For PresetUnlimited the ceiling is
// left untouched. Idempotent; last writer wins across sessions.
func ApplyPolicy(alloc Allocator, p Policy) error {
	if p.Preset == PresetUnlimited {
		return nil
	}
	total, err := alloc.TotalMemory()
	if err != nil {
		return fmt.Errorf("memorypolicy: query total memory: %w", err)
	}
	ceiling, ok := CeilingBytes(p, total)
	if !ok {
		return nil
	}
	alloc.SetCacheLimit(ceiling)
	return nil
}

// ApplyRecommended queries total memory, picks the ladder preset for
// it, applies it, and returns the chosen preset.
func ApplyRecommended(alloc Allocator) (Preset, error) {
	total, err := alloc.TotalMemory()
	if err != nil {
		return 0, fmt.Errorf("memorypolicy: query total memory: %w", err)
	}
	preset := RecommendedPreset(total)
	ceiling, _ := CeilingBytes(Policy{Preset: preset}, total)
	alloc.SetCacheLimit(ceiling)
	return preset, nil
}

// ClearCache forces release of cached-but-unused device allocations.
func ClearCache(alloc Allocator) {
	alloc.ClearCache()
}

// FormatBytes renders a byte quantity for logs ("25 GiB").
func FormatBytes(n uint64) string {
	return humanize.IBytes(n)
}
