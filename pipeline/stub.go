// stub.go provides an in-process stub engine used by the default
// (non-accelerated) build, the CLI demo, and the test suite. It
// mirrors the component lifecycle of a real engine (recorded weights
// location, lazy auto-load on encode, explicit release/reload) while
// computing deterministic fake tensors instead of running a model.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// encodingWidth is the element count of stub embeddings. Small on
// purpose; tests only care about determinism and identity.
const encodingWidth = 8

// StubPipeline is a deterministic Pipeline implementation.
//
// It counts Encode and Generate invocations so tests can assert the
// at-most-once guarantee of the cache layer, and it folds a LoRA
// generation counter into encode output so tests can observe that
// adapter fusion changes encoder results.
//
// StubPipeline guards its state with a mutex, but the session layer
// serializes access anyway; the lock only keeps direct test probes
// race-free.
type StubPipeline struct {
	mu sync.Mutex

	// weightsPath is the recorded weights location. Empty means no
	// location was ever recorded, making reload impossible.
	weightsPath string

	loaded map[Component]bool

	encodeCalls    int
	generateCalls  int
	loraGeneration int

	encodeErr   error
	generateErr error
}

// NewStubPipeline creates a stub engine with all components loaded and
// weightsPath recorded as the reload location.
func NewStubPipeline(weightsPath string) *StubPipeline {
	return &StubPipeline{
		weightsPath: weightsPath,
		loaded: map[Component]bool{
			ComponentTokenizer:   true,
			ComponentTextEncoder: true,
			ComponentVisionTower: true,
			ComponentUNet:        true,
			ComponentVAE:         true,
		},
	}
}

// NewUnloadedStubPipeline creates a stub engine with no components
// loaded and no weights location recorded. Every encode, generate, or
// reload fails with ErrComponentNotLoaded.
func NewUnloadedStubPipeline() *StubPipeline {
	return &StubPipeline{loaded: map[Component]bool{}}
}

// Encode produces a deterministic guidance encoding for the prompt
// pair. The tokenizer and text encoder are auto-loaded from the
// recorded weights location if absent.
func (p *StubPipeline) Encode(ctx context.Context, prompt, negativePrompt string, maxLength int) (*Encoding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidatePrompt(prompt); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range []Component{ComponentTokenizer, ComponentTextEncoder} {
		if err := p.ensureLoadedLocked(c); err != nil {
			return nil, err
		}
	}
	if p.encodeErr != nil {
		return nil, p.encodeErr
	}

	p.encodeCalls++

	cond := fakeTensor(prompt, maxLength, p.loraGeneration)
	uncond := fakeTensor(negativePrompt, maxLength, p.loraGeneration)
	masks := make([]int32, encodingWidth)
	for i := range masks {
		masks[i] = 1
	}
	return NewEncoding(uncond, cond, masks, maxLength), nil
}

// Generate produces a deterministic pixel tensor from the encoding and
// seed. The denoiser and decoder are auto-loaded from the recorded
// weights location if absent.
func (p *StubPipeline) Generate(ctx context.Context, params GenerateParams, model string, enc *Encoding, seed int64) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: nil encoding", ErrGenerateFailed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range []Component{ComponentUNet, ComponentVAE} {
		if err := p.ensureLoadedLocked(c); err != nil {
			return nil, err
		}
	}
	if p.generateErr != nil {
		return nil, p.generateErr
	}

	p.generateCalls++

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%d", model, seed, params.Width, params.Height)
	for _, v := range enc.cond {
		fmt.Fprintf(h, "|%g", v)
	}
	base := h.Sum64()

	data := make([]float32, params.Width*params.Height*3)
	for i := range data {
		data[i] = float32((base>>(uint(i%8)*8))&0xFF) / 255
	}
	return &Image{
		Width:    params.Width,
		Height:   params.Height,
		Channels: 3,
		Data:     data,
	}, nil
}

// ensureLoadedLocked loads c from the recorded weights location, or
// fails with a typed ComponentNotLoadedError when no location exists.
func (p *StubPipeline) ensureLoadedLocked(c Component) error {
	if p.loaded[c] {
		return nil
	}
	if p.weightsPath == "" {
		return &ComponentNotLoadedError{Component: c}
	}
	p.loaded[c] = true
	return nil
}

// ReleaseTextEncoder unloads the text encoder. No-op if absent.
func (p *StubPipeline) ReleaseTextEncoder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loaded, ComponentTextEncoder)
}

// ReleaseVisionTower unloads the vision tower. No-op if absent.
func (p *StubPipeline) ReleaseVisionTower() {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loaded, ComponentVisionTower)
}

// ReleaseEncoders unloads the text encoder and vision tower.
func (p *StubPipeline) ReleaseEncoders() {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loaded, ComponentTextEncoder)
	delete(p.loaded, ComponentVisionTower)
}

// ReloadTextEncoder re-materializes the text encoder from the recorded
// weights location.
func (p *StubPipeline) ReloadTextEncoder() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadLocked(ComponentTextEncoder)
}

// ReloadTokenizer re-materializes the tokenizer from the recorded
// weights location.
func (p *StubPipeline) ReloadTokenizer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadLocked(ComponentTokenizer)
}

func (p *StubPipeline) reloadLocked(c Component) error {
	if p.weightsPath == "" {
		return &ComponentNotLoadedError{Component: c}
	}
	p.loaded[c] = true
	return nil
}

// ApplyLora fuses adapter weights into the encoder and denoiser.
// In the stub this bumps a generation counter that perturbs every
// subsequent encode, so callers can observe the weight change.
func (p *StubPipeline) ApplyLora(source string, scale float64) error {
	if source == "" {
		return fmt.Errorf("%w: empty adapter source", ErrLoraFusionFailed)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loraGeneration++
	return nil
}

func (p *StubPipeline) IsTextEncoderLoaded() bool { return p.isLoaded(ComponentTextEncoder) }
func (p *StubPipeline) IsTokenizerLoaded() bool   { return p.isLoaded(ComponentTokenizer) }
func (p *StubPipeline) IsVisionTowerLoaded() bool { return p.isLoaded(ComponentVisionTower) }
func (p *StubPipeline) IsUNetLoaded() bool        { return p.isLoaded(ComponentUNet) }
func (p *StubPipeline) IsVAELoaded() bool         { return p.isLoaded(ComponentVAE) }

func (p *StubPipeline) isLoaded(c Component) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[c]
}

// EncodeCalls returns the number of successful Encode invocations.
func (p *StubPipeline) EncodeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encodeCalls
}

// GenerateCalls returns the number of successful Generate invocations.
func (p *StubPipeline) GenerateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls
}

// SetEncodeError makes every subsequent Encode fail with err until
// cleared with nil. For tests.
func (p *StubPipeline) SetEncodeError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encodeErr = err
}

// SetGenerateError makes every subsequent Generate fail with err until
// cleared with nil. For tests.
func (p *StubPipeline) SetGenerateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateErr = err
}

// fakeTensor derives a deterministic embedding from text, token budget
// and the LoRA generation counter.
func fakeTensor(text string, maxLength, loraGeneration int) []float32 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d", text, maxLength, loraGeneration)
	base := h.Sum64()

	out := make([]float32, encodingWidth)
	for i := range out {
		out[i] = float32((base>>(8*uint(i)))&0xFF) / 255
	}
	return out
}
