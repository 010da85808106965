// digest.go contains the content-digest atoms used for caption cache
// keys. Digests are always computed over the raw source bytes, before
// any device-side decode, so hashing never forces a host/device
// synchronization point.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// DigestAlgorithm selects how image content is hashed into a cache key.
type DigestAlgorithm int

const (
	// DigestXXHash64 is the default: a fast non-cryptographic hash.
	// The collision risk is acceptable for a small in-process cache.
	DigestXXHash64 DigestAlgorithm = iota

	// DigestSHA256 is an opt-in cryptographic digest.
	DigestSHA256

	// DigestBLAKE2b256 is an opt-in cryptographic digest, cheaper than
	// SHA-256 on large inputs.
	DigestBLAKE2b256
)

// String returns the canonical name of the algorithm, which is also
// the prefix of every digest it produces.
func (a DigestAlgorithm) String() string {
	switch a {
	case DigestXXHash64:
		return "xxh64"
	case DigestSHA256:
		return "sha256"
	case DigestBLAKE2b256:
		return "blake2b"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParseDigestAlgorithm parses a digest algorithm name as produced by
// String. Used when loading cache configuration from the environment.
func ParseDigestAlgorithm(s string) (DigestAlgorithm, error) {
	switch s {
	case "", "xxh64", "xxhash", "xxhash64":
		return DigestXXHash64, nil
	case "sha256":
		return DigestSHA256, nil
	case "blake2b", "blake2b256":
		return DigestBLAKE2b256, nil
	default:
		return 0, fmt.Errorf("promptcache: unknown digest algorithm %q", s)
	}
}

// ComputeDigest hashes data with the given algorithm and returns an
// algorithm-prefixed lowercase hex string (e.g. "xxh64:9a3bf7...").
//
// The prefix keeps digests from different algorithms from ever
// comparing equal, so switching algorithms on a live cache cannot
// produce false hits.
//
// This is a pure function: identical bytes always produce the
// identical digest, irrespective of where the bytes came from or how
// many times they are subsequently decoded.
func ComputeDigest(algo DigestAlgorithm, data []byte) string {
	switch algo {
	case DigestSHA256:
		sum := sha256.Sum256(data)
		return "sha256:" + hex.EncodeToString(sum[:])
	case DigestBLAKE2b256:
		sum := blake2b.Sum256(data)
		return "blake2b:" + hex.EncodeToString(sum[:])
	default:
		var buf [8]byte
		sum := xxhash.Sum64(data)
		for i := 0; i < 8; i++ {
			buf[i] = byte(sum >> (56 - 8*i))
		}
		return "xxh64:" + hex.EncodeToString(buf[:])
	}
}
