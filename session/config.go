// Package session provides the serialized orchestrator that owns one
// loaded model's pipeline handle and its encoding cache.
//
// config.go contains the named configuration presets and YAML loading.
package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config bundles the resource-management parameters of one session.
type Config struct {
	// ReleaseAfterEncoding releases the encoder-side components (text
	// encoder, vision tower) before the heavier denoising phase,
	// trading a future reload cost for reduced peak memory.
	ReleaseAfterEncoding bool `yaml:"releaseAfterEncoding"`

	// MaxCacheEntries bounds the encoding cache. Typically single
	// digits to low tens.
	MaxCacheEntries int `yaml:"maxCacheEntries"`

	// DeviceCacheLimitBytes, when non-zero, overrides the memory
	// policy's recommended allocator ceiling for this session.
	DeviceCacheLimitBytes uint64 `yaml:"deviceCacheLimitBytes,omitempty"`
}

// DefaultConfig balances peak memory against reload cost: encoders are
// released before generation and the cache holds a dozen encodings.
func DefaultConfig() Config {
	return Config{
		ReleaseAfterEncoding: true,
		MaxCacheEntries:      12,
	}
}

// FastPromptIterationConfig keeps encoders resident for rapid
// re-prompting at the cost of higher steady-state memory.
func FastPromptIterationConfig() Config {
	return Config{
		ReleaseAfterEncoding: false,
		MaxCacheEntries:      24,
	}
}

// LowMemoryConfig minimizes footprint: aggressive release, a tiny
// cache, and a 2 GiB allocator ceiling.
func LowMemoryConfig() Config {
	return Config{
		ReleaseAfterEncoding:  true,
		MaxCacheEntries:       4,
		DeviceCacheLimitBytes: 2 << 30,
	}
}

// PresetConfig returns the named preset: "default",
// "fastPromptIteration", or "lowMemory".
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "fastPromptIteration":
		return FastPromptIterationConfig(), nil
	case "lowMemory":
		return LowMemoryConfig(), nil
	default:
		return Config{}, fmt.Errorf("session: unknown config preset %q", name)
	}
}

// LoadConfigFile reads a Config from a YAML file, starting from
// DefaultConfig so omitted fields keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("session: read config %q: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("session: parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxCacheEntries <= 0 {
		return fmt.Errorf("session: maxCacheEntries must be positive, got %d", c.MaxCacheEntries)
	}
	return nil
}
