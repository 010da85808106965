// generation_fields.go provides zap field helpers for image-generation
// run logging, so every component reports runs with the same keys.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// GenerationFields builds the standard field set for one generation
// run log entry.
func GenerationFields(sessionID, modelID string, seed int64, steps int, cacheHit bool, duration time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("model_id", modelID),
		zap.Int64("seed", seed),
		zap.Int("steps", steps),
		zap.Bool("encoding_cache_hit", cacheHit),
		zap.Duration("duration", duration),
	}
}

// MemoryFields builds the standard field set for allocator state log
// entries.
func MemoryFields(usageBytes, limitBytes uint64) []zap.Field {
	fields := []zap.Field{
		zap.Uint64("cache_usage_bytes", usageBytes),
	}
	if limitBytes > 0 {
		fields = append(fields, zap.Uint64("cache_limit_bytes", limitBytes))
	}
	return fields
}
