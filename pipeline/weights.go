package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Weights file errors.
var (
	ErrWeightsNotFound  = errors.New("pipeline: weights file not found")
	ErrWeightsCorrupted = errors.New("pipeline: weights file checksum mismatch")
)

// WeightsChecksum computes the SHA256 hash of a weights file, streamed
// so multi-gigabyte safetensors never sit in memory. Returns the
// lowercase hex digest.
func WeightsChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrWeightsNotFound, path)
		}
		return "", fmt.Errorf("pipeline: open weights: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("pipeline: read weights: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyWeights checks a weights file against an expected SHA256 hex
// digest. An empty expected digest skips verification, so unregistered
// models still load.
func VerifyWeights(path, expectedSHA256 string) error {
	if expectedSHA256 == "" {
		return nil
	}

	actual, err := WeightsChecksum(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expectedSHA256) {
		return fmt.Errorf("%w: expected %s, got %s", ErrWeightsCorrupted, expectedSHA256, actual)
	}
	return nil
}
