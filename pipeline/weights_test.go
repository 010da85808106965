package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeWeights(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestWeightsChecksum(t *testing.T) {
	path := writeWeights(t, "abc")

	// SHA256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	got, err := WeightsChecksum(path)
	if err != nil {
		t.Fatalf("WeightsChecksum failed: %v", err)
	}
	if got != want {
		t.Errorf("checksum = %s, want %s", got, want)
	}
}

func TestWeightsChecksumMissingFile(t *testing.T) {
	_, err := WeightsChecksum(filepath.Join(t.TempDir(), "missing.safetensors"))
	if !errors.Is(err, ErrWeightsNotFound) {
		t.Errorf("err = %v, want ErrWeightsNotFound", err)
	}
}

func TestVerifyWeights(t *testing.T) {
	path := writeWeights(t, "abc")
	const good = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

	if err := VerifyWeights(path, good); err != nil {
		t.Errorf("matching digest failed: %v", err)
	}
	// Digest comparison is case-insensitive.
	if err := VerifyWeights(path, "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"); err != nil {
		t.Errorf("uppercase digest failed: %v", err)
	}

	err := VerifyWeights(path, "0000000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrWeightsCorrupted) {
		t.Errorf("mismatch = %v, want ErrWeightsCorrupted", err)
	}
}

func TestVerifyWeightsSkipsWhenUnregistered(t *testing.T) {
	// No expected digest means no verification, even for a missing file.
	if err := VerifyWeights("does-not-exist", ""); err != nil {
		t.Errorf("empty digest should skip verification, got %v", err)
	}
}
