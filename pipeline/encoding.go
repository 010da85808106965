// encoding.go contains the guidance-encoding atom: the paired
// unconditional/conditional prompt embeddings used for classifier-free
// guidance.
package pipeline

// Encoding is an immutable snapshot of a guidance encoding.
//
// The constructor deep-copies its inputs and the accessors return
// copies, so a cached Encoding can never be mutated in place by a
// later pipeline operation. This matters because encodings are cached
// and handed out repeatedly; sharing a live, mutable buffer with the
// engine would let one generation corrupt another's cached guidance.
type Encoding struct {
	uncond []float32
	cond   []float32
	masks  []int32

	maxLength int
}

// NewEncoding builds an Encoding snapshot from engine output buffers.
// The inputs are copied; the caller may reuse them afterwards.
func NewEncoding(uncond, cond []float32, masks []int32, maxLength int) *Encoding {
	return &Encoding{
		uncond:    append([]float32(nil), uncond...),
		cond:      append([]float32(nil), cond...),
		masks:     append([]int32(nil), masks...),
		maxLength: maxLength,
	}
}

// Uncond returns a copy of the unconditional embedding.
func (e *Encoding) Uncond() []float32 {
	return append([]float32(nil), e.uncond...)
}

// Cond returns a copy of the conditional embedding.
func (e *Encoding) Cond() []float32 {
	return append([]float32(nil), e.cond...)
}

// Masks returns a copy of the attention masks.
func (e *Encoding) Masks() []int32 {
	return append([]int32(nil), e.masks...)
}

// MaxLength returns the token budget the prompt was encoded with.
func (e *Encoding) MaxLength() int {
	return e.maxLength
}

// Len returns the element count of the conditional embedding.
func (e *Encoding) Len() int {
	return len(e.cond)
}
