package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestStubEncodeDeterministic(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	ctx := context.Background()

	first, err := p.Encode(ctx, "a red fox", "blurry", 256)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := p.Encode(ctx, "a red fox", "blurry", 256)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if got, want := second.Cond(), first.Cond(); !equalF32(got, want) {
		t.Errorf("same inputs produced different conditional embeddings")
	}

	other, err := p.Encode(ctx, "a blue fox", "blurry", 256)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if equalF32(other.Cond(), first.Cond()) {
		t.Error("different prompts produced identical embeddings")
	}

	if p.EncodeCalls() != 3 {
		t.Errorf("EncodeCalls() = %d, want 3", p.EncodeCalls())
	}
}

func TestStubEncodeValidation(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	if _, err := p.Encode(context.Background(), "", "", 256); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("empty prompt error = %v, want ErrInvalidPrompt", err)
	}
}

// Adapter fusion must perturb subsequent encoder output.
func TestStubApplyLoraChangesEncoding(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	ctx := context.Background()

	before, _ := p.Encode(ctx, "a red fox", "", 256)
	if err := p.ApplyLora("/adapters/watercolor.safetensors", 0.8); err != nil {
		t.Fatalf("ApplyLora: %v", err)
	}
	after, _ := p.Encode(ctx, "a red fox", "", 256)

	if equalF32(before.Cond(), after.Cond()) {
		t.Error("encoding unchanged after LoRA fusion")
	}
}

func TestStubApplyLoraEmptySource(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	if err := p.ApplyLora("", 1.0); !errors.Is(err, ErrLoraFusionFailed) {
		t.Errorf("error = %v, want ErrLoraFusionFailed", err)
	}
}

func TestStubComponentLifecycle(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")

	if !p.IsTextEncoderLoaded() || !p.IsVisionTowerLoaded() {
		t.Fatal("encoders should start loaded")
	}

	p.ReleaseEncoders()
	if p.IsTextEncoderLoaded() {
		t.Error("text encoder still loaded after ReleaseEncoders")
	}
	if p.IsVisionTowerLoaded() {
		t.Error("vision tower still loaded after ReleaseEncoders")
	}
	if !p.IsUNetLoaded() || !p.IsVAELoaded() {
		t.Error("denoiser/decoder should be untouched by encoder release")
	}

	// Release is idempotent when the component is already absent.
	p.ReleaseTextEncoder()
	p.ReleaseVisionTower()

	if err := p.ReloadTextEncoder(); err != nil {
		t.Fatalf("ReloadTextEncoder: %v", err)
	}
	if !p.IsTextEncoderLoaded() {
		t.Error("text encoder not loaded after reload")
	}
}

// Encode auto-loads released encoder components from the recorded
// weights location.
func TestStubEncodeAutoReload(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	p.ReleaseEncoders()

	if _, err := p.Encode(context.Background(), "a red fox", "", 256); err != nil {
		t.Fatalf("Encode after release: %v", err)
	}
	if !p.IsTextEncoderLoaded() {
		t.Error("text encoder not auto-loaded by Encode")
	}
}

// Without a recorded weights location every path that needs a
// component fails with the typed condition.
func TestStubComponentNotLoaded(t *testing.T) {
	p := NewUnloadedStubPipeline()
	ctx := context.Background()

	if _, err := p.Encode(ctx, "a red fox", "", 256); !errors.Is(err, ErrComponentNotLoaded) {
		t.Errorf("Encode error = %v, want ErrComponentNotLoaded", err)
	}

	err := p.ReloadTokenizer()
	if !errors.Is(err, ErrComponentNotLoaded) {
		t.Fatalf("ReloadTokenizer error = %v, want ErrComponentNotLoaded", err)
	}
	var cnl *ComponentNotLoadedError
	if !errors.As(err, &cnl) {
		t.Fatal("error is not a *ComponentNotLoadedError")
	}
	if cnl.Component != ComponentTokenizer {
		t.Errorf("Component = %q, want %q", cnl.Component, ComponentTokenizer)
	}

	if err := p.ReloadTextEncoder(); !errors.Is(err, ErrComponentNotLoaded) {
		t.Errorf("ReloadTextEncoder error = %v, want ErrComponentNotLoaded", err)
	}
}

func TestStubGenerate(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	ctx := context.Background()

	enc, err := p.Encode(ctx, "a red fox", "", 256)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	params := DefaultParams()
	params.Prompt = "a red fox"

	img1, err := p.Generate(ctx, params, "flux-dev", enc, 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img1.Width != params.Width || img1.Height != params.Height {
		t.Errorf("image %dx%d, want %dx%d", img1.Width, img1.Height, params.Width, params.Height)
	}

	// Same seed reproduces, different seed differs.
	img2, _ := p.Generate(ctx, params, "flux-dev", enc, 7)
	if !equalF32(img1.Data, img2.Data) {
		t.Error("same seed produced different pixels")
	}
	img3, _ := p.Generate(ctx, params, "flux-dev", enc, 8)
	if equalF32(img1.Data, img3.Data) {
		t.Error("different seed produced identical pixels")
	}
}

func TestStubGenerateValidation(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	ctx := context.Background()
	enc, _ := p.Encode(ctx, "a red fox", "", 256)

	tests := []struct {
		name   string
		mutate func(p GenerateParams) GenerateParams
	}{
		{"width too small", func(p GenerateParams) GenerateParams { p.Width = 64; return p }},
		{"width not multiple of 8", func(p GenerateParams) GenerateParams { p.Width = 513; return p }},
		{"height too large", func(p GenerateParams) GenerateParams { p.Height = 4096; return p }},
		{"zero steps", func(p GenerateParams) GenerateParams { p.Steps = 0; return p }},
		{"cfg out of range", func(p GenerateParams) GenerateParams { p.CFGScale = 99; return p }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultParams()
			params.Prompt = "a red fox"
			params = tt.mutate(params)
			if _, err := p.Generate(ctx, params, "flux-dev", enc, 1); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("error = %v, want ErrInvalidParams", err)
			}
		})
	}

	params := DefaultParams()
	params.Prompt = "a red fox"
	if _, err := p.Generate(ctx, params, "flux-dev", nil, 1); !errors.Is(err, ErrGenerateFailed) {
		t.Errorf("nil encoding error = %v, want ErrGenerateFailed", err)
	}
}

func TestStubCancelledContext(t *testing.T) {
	p := NewStubPipeline("/weights/flux-dev")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Encode(ctx, "a red fox", "", 256); !errors.Is(err, context.Canceled) {
		t.Errorf("Encode error = %v, want context.Canceled", err)
	}
	if p.EncodeCalls() != 0 {
		t.Errorf("EncodeCalls() = %d after cancelled encode, want 0", p.EncodeCalls())
	}
}

func TestRandomSeedNonNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		if s := RandomSeed(); s < 0 {
			t.Fatalf("RandomSeed() = %d, want non-negative", s)
		}
	}
}

func equalF32(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
