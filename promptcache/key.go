// Package promptcache provides bounded, content-addressed caching of
// expensive prompt and caption encodings produced by the inference
// pipeline.
//
// key.go contains the cache key atoms. A key captures every input that
// affects a cached value; equality is full structural equality, so any
// field difference is a guaranteed miss.
package promptcache

// PromptKey identifies a cached guidance encoding.
//
// All fields participate in equality. QuantizationID and DType are part
// of the key because the same prompt encoded under a different
// quantization or tensor dtype produces a different embedding.
type PromptKey struct {
	// ModelID is the model identifier (e.g., "flux-dev").
	ModelID string

	// Revision is the weights revision (e.g., "main" or a commit hash).
	Revision string

	// QuantizationID names the quantization variant, empty for full precision.
	QuantizationID string

	// DType is the tensor element type (e.g., "float16", "bfloat16").
	DType string

	// MaxLength is the token budget the prompt was encoded with.
	MaxLength int

	// Prompt is the positive prompt text.
	Prompt string

	// NegativePrompt is the negative prompt text, empty if unused.
	NegativePrompt string
}

// CaptionKey identifies a cached caption encoding. It is content
// addressed: ImageDigest is computed from the original encoded image
// bytes, never from a decoded or resized representation, so identical
// source files always map to the identical key.
type CaptionKey struct {
	ModelID        string
	Revision       string
	Prompt         string
	NegativePrompt string

	// ImageDigest is the algorithm-prefixed hex digest of the raw
	// image bytes (see ComputeDigest).
	ImageDigest string
}

// MatchModel returns a predicate selecting PromptKeys that belong to
// the given model. If revision is supplied, only keys with that exact
// revision match; otherwise every revision of the model matches.
//
// Used with Cache.InvalidateFunc for model-scoped invalidation. The
// scan is structural with no secondary index, which is fine at the
// single-digit capacities these caches run at.
func MatchModel(modelID string, revision ...string) func(PromptKey) bool {
	if len(revision) > 0 {
		rev := revision[0]
		return func(k PromptKey) bool {
			return k.ModelID == modelID && k.Revision == rev
		}
	}
	return func(k PromptKey) bool {
		return k.ModelID == modelID
	}
}

// MatchCaptionModel is the CaptionKey counterpart of MatchModel.
func MatchCaptionModel(modelID string, revision ...string) func(CaptionKey) bool {
	if len(revision) > 0 {
		rev := revision[0]
		return func(k CaptionKey) bool {
			return k.ModelID == modelID && k.Revision == rev
		}
	}
	return func(k CaptionKey) bool {
		return k.ModelID == modelID
	}
}
