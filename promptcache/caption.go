// caption.go implements the content-addressed caption cache molecule.
// It composes the generic Cache with the digest atoms so that a key
// embeds a digest of an image's original byte stream.
package promptcache

// CaptionCache caches caption encodings keyed by prompt identity plus
// a digest of the source image bytes. Mechanics are identical to
// Cache; only key construction differs.
type CaptionCache[V any] struct {
	cache *Cache[CaptionKey, V]
	algo  DigestAlgorithm
}

// NewCaptionCache creates a caption cache holding at most maxEntries
// values, hashing image content with algo.
// Returns ErrInvalidCapacity if maxEntries <= 0.
func NewCaptionCache[V any](maxEntries int, algo DigestAlgorithm) (*CaptionCache[V], error) {
	c, err := New[CaptionKey, V](maxEntries)
	if err != nil {
		return nil, err
	}
	return &CaptionCache[V]{cache: c, algo: algo}, nil
}

// KeyFor builds the cache key for a caption request. imageBytes must
// be the original encoded file bytes, not a decoded representation.
func (c *CaptionCache[V]) KeyFor(modelID, revision, prompt, negativePrompt string, imageBytes []byte) CaptionKey {
	return CaptionKey{
		ModelID:        modelID,
		Revision:       revision,
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		ImageDigest:    ComputeDigest(c.algo, imageBytes),
	}
}

// Get returns the cached value for key, bumping its access count.
func (c *CaptionCache[V]) Get(key CaptionKey) (V, bool) { return c.cache.Get(key) }

// Set inserts or overwrites the value for key, evicting if needed.
func (c *CaptionCache[V]) Set(key CaptionKey, value V) { c.cache.Set(key, value) }

// Invalidate removes the entry for key if present.
func (c *CaptionCache[V]) Invalidate(key CaptionKey) bool { return c.cache.Invalidate(key) }

// InvalidateAll removes every entry.
func (c *CaptionCache[V]) InvalidateAll() int { return c.cache.InvalidateAll() }

// InvalidateForModel removes all entries for the given model,
// optionally restricted to one revision.
func (c *CaptionCache[V]) InvalidateForModel(modelID string, revision ...string) int {
	return c.cache.InvalidateFunc(MatchCaptionModel(modelID, revision...))
}

// InvalidateForImage removes all entries whose key digest matches the
// digest of the supplied bytes, recomputed with the cache's configured
// algorithm. Returns the number of entries removed.
func (c *CaptionCache[V]) InvalidateForImage(imageBytes []byte) int {
	digest := ComputeDigest(c.algo, imageBytes)
	return c.cache.InvalidateFunc(func(k CaptionKey) bool {
		return k.ImageDigest == digest
	})
}

// Len returns the number of cached entries.
func (c *CaptionCache[V]) Len() int { return c.cache.Len() }

// Contains reports key presence without affecting eviction priority.
func (c *CaptionCache[V]) Contains(key CaptionKey) bool { return c.cache.Contains(key) }

// Algorithm returns the configured digest algorithm.
func (c *CaptionCache[V]) Algorithm() DigestAlgorithm { return c.algo }
