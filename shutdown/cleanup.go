package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// partialPattern matches output files from generations that were
// interrupted mid-write.
const partialPattern = "*.partial"

// CleanupPartialOutputs returns a handler that removes interrupted
// output files from the output directory. Removal failures are logged
// but never fail the shutdown sequence.
//
// Priority recommendation: 40+.
func CleanupPartialOutputs(logger *zap.Logger, outputDir string) Func {
	return func(ctx context.Context) error {
		if outputDir == "" {
			return nil
		}
		matches, err := filepath.Glob(filepath.Join(outputDir, partialPattern))
		if err != nil {
			logger.Warn("failed to scan output directory", zap.Error(err))
			return nil
		}
		for _, path := range matches {
			select {
			case <-ctx.Done():
				logger.Warn("cleanup cancelled",
					zap.Int("remaining", len(matches)))
				return nil
			default:
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove partial output",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			logger.Debug("removed partial output", zap.String("path", path))
		}
		return nil
	}
}
