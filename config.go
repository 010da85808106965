package main

import (
	"os"
	"strconv"
	"time"
)

// Config holds host settings sourced from environment variables.
// A .env file is honoured for local runs.
type Config struct {
	ModelID        string
	ModelRevision  string
	QuantizationID string
	DType          string

	// SessionPreset selects a session configuration: default,
	// fastPromptIteration or lowMemory. SessionConfigFile, when set,
	// points at a YAML file that takes precedence.
	SessionPreset     string
	SessionConfigFile string

	// MemoryPreset names a device cache policy, or "auto" to pick one
	// from total device memory.
	MemoryPreset string

	// WeightsPath optionally points at the model weights file;
	// WeightsSHA256, when set, is verified against it before loading.
	WeightsPath   string
	WeightsSHA256 string

	HistoryDB string
	OutputDir string
	LogFile   string

	SampleInterval  time.Duration
	ShutdownTimeout time.Duration
	DevMode         bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads the environment into a Config. Every setting has a
// usable default so a bare `sdhost` run works out of the box.
func loadConfig() *Config {
	return &Config{
		ModelID:        getEnvOrDefault("SDHOST_MODEL_ID", "sd15-base"),
		ModelRevision:  getEnvOrDefault("SDHOST_MODEL_REVISION", "main"),
		QuantizationID: getEnvOrDefault("SDHOST_QUANTIZATION", "none"),
		DType:          getEnvOrDefault("SDHOST_DTYPE", "f16"),

		SessionPreset:     getEnvOrDefault("SDHOST_SESSION_PRESET", "default"),
		SessionConfigFile: getEnvOrDefault("SDHOST_SESSION_CONFIG", ""),

		MemoryPreset: getEnvOrDefault("SDHOST_MEMORY_PRESET", "auto"),

		WeightsPath:   getEnvOrDefault("SDHOST_WEIGHTS_PATH", ""),
		WeightsSHA256: getEnvOrDefault("SDHOST_WEIGHTS_SHA256", ""),

		HistoryDB: getEnvOrDefault("SDHOST_HISTORY_DB", "./sdhost-runs.sqlite"),
		OutputDir: getEnvOrDefault("SDHOST_OUTPUT_DIR", "./outputs"),
		LogFile:   getEnvOrDefault("SDHOST_LOG_FILE", "sdhost.log"),

		SampleInterval:  getEnvDuration("SDHOST_SAMPLE_INTERVAL", 5*time.Second),
		ShutdownTimeout: getEnvDuration("SDHOST_SHUTDOWN_TIMEOUT", 60*time.Second),
		DevMode:         getEnvBool("SDHOST_DEV_MODE", false),
	}
}
