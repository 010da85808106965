package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sdhost/pipeline"
)

func testModel() ModelInfo {
	return ModelInfo{
		ModelID:  "flux-dev",
		Revision: "main",
		DType:    "float16",
	}
}

// newTestSession builds a session over a fresh stub pipeline.
func newTestSession(t *testing.T, cfg Config, opts ...Option) (*Session, *pipeline.StubPipeline) {
	t.Helper()
	stub := pipeline.NewStubPipeline("/weights/flux-dev")
	s, err := New(stub, testModel(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, stub
}

func testParams(prompt string) pipeline.GenerateParams {
	p := pipeline.DefaultParams()
	p.Prompt = prompt
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	stub := pipeline.NewStubPipeline("/weights/flux-dev")
	if _, err := New(stub, testModel(), Config{MaxCacheEntries: 0}, nil); err == nil {
		t.Fatal("expected error for zero cache capacity")
	}
}

// No recompute on hit: two identical GuidanceEncoding calls result in
// exactly one underlying encode invocation.
func TestGuidanceEncodingComputesAtMostOnce(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	first, err := s.GuidanceEncoding(ctx, "a cat", "blurry", 256)
	if err != nil {
		t.Fatalf("GuidanceEncoding: %v", err)
	}
	second, err := s.GuidanceEncoding(ctx, "a cat", "blurry", 256)
	if err != nil {
		t.Fatalf("GuidanceEncoding: %v", err)
	}

	if stub.EncodeCalls() != 1 {
		t.Errorf("EncodeCalls() = %d, want 1", stub.EncodeCalls())
	}
	if first != second {
		t.Error("hit did not return the cached encoding instance")
	}
}

// Different key fields mean different cache entries and fresh encodes.
func TestGuidanceEncodingKeyFields(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	calls := []struct {
		prompt, negative string
		maxLength        int
	}{
		{"a cat", "", 256},
		{"a dog", "", 256},      // prompt differs
		{"a cat", "ugly", 256},  // negative differs
		{"a cat", "", 512},      // max length differs
		{"a cat", "", 256},      // repeat of first: hit
	}
	for _, c := range calls {
		if _, err := s.GuidanceEncoding(ctx, c.prompt, c.negative, c.maxLength); err != nil {
			t.Fatalf("GuidanceEncoding(%q): %v", c.prompt, err)
		}
	}

	if stub.EncodeCalls() != 4 {
		t.Errorf("EncodeCalls() = %d, want 4", stub.EncodeCalls())
	}
}

// A failed encode never populates the cache.
func TestEncodeFailureDoesNotPoisonCache(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	boom := errors.New("device numeric failure")
	stub.SetEncodeError(boom)

	if _, err := s.GuidanceEncoding(ctx, "a cat", "", 256); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the injected failure unchanged", err)
	}
	if s.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d after failed encode, want 0", s.CacheLen())
	}

	// After the fault clears, the same key computes and caches normally.
	stub.SetEncodeError(nil)
	if _, err := s.GuidanceEncoding(ctx, "a cat", "", 256); err != nil {
		t.Fatalf("GuidanceEncoding after recovery: %v", err)
	}
	if s.CacheLen() != 1 {
		t.Errorf("CacheLen() = %d, want 1", s.CacheLen())
	}
}

// Release ordering: with release-after-encode enabled, immediately
// after Generate returns the text encoder is unloaded, even though the
// result reflects the pre-release encoding.
func TestGenerateReleasesEncodersBeforeGeneration(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	img, err := s.Generate(ctx, testParams("a red fox"), "flux-dev", 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img == nil {
		t.Fatal("nil image")
	}

	if s.IsTextEncoderLoaded() {
		t.Error("text encoder still loaded after Generate with release enabled")
	}
	if s.IsVisionTowerLoaded() {
		t.Error("vision tower still loaded after Generate with release enabled")
	}
	if stub.GenerateCalls() != 1 {
		t.Errorf("GenerateCalls() = %d, want 1", stub.GenerateCalls())
	}
}

func TestGenerateKeepsEncodersWhenConfigured(t *testing.T) {
	s, _ := newTestSession(t, FastPromptIterationConfig())

	if _, err := s.Generate(context.Background(), testParams("a red fox"), "flux-dev", 7); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !s.IsTextEncoderLoaded() {
		t.Error("text encoder released despite ReleaseAfterEncoding=false")
	}
}

// The cached encoding survives encoder release: a second Generate for
// the same prompt hits the cache and never reloads the encoder.
func TestGenerateServesEncodingAfterEncoderRelease(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	if _, err := s.Generate(ctx, testParams("a red fox"), "flux-dev", 7); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if _, err := s.Generate(ctx, testParams("a red fox"), "flux-dev", 8); err != nil {
		t.Fatalf("second Generate: %v", err)
	}

	if stub.EncodeCalls() != 1 {
		t.Errorf("EncodeCalls() = %d across two Generates of one prompt, want 1", stub.EncodeCalls())
	}
	if s.IsTextEncoderLoaded() {
		t.Error("text encoder reloaded for a cached prompt")
	}
}

func TestGenerateRandomSeed(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())

	if _, err := s.Generate(context.Background(), testParams("a red fox"), "flux-dev", -1); err != nil {
		t.Fatalf("Generate with seed -1: %v", err)
	}
	if stub.GenerateCalls() != 1 {
		t.Errorf("GenerateCalls() = %d, want 1", stub.GenerateCalls())
	}
}

// Generate errors propagate unchanged, with no retry.
func TestGenerateErrorPropagates(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())

	boom := errors.New("shape mismatch")
	stub.SetGenerateError(boom)

	if _, err := s.Generate(context.Background(), testParams("a red fox"), "flux-dev", 7); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the injected failure unchanged", err)
	}
	if stub.GenerateCalls() != 0 {
		t.Errorf("GenerateCalls() = %d, want 0 (no retry)", stub.GenerateCalls())
	}

	// Caller retry after the fault clears reloads components and works.
	stub.SetGenerateError(nil)
	if _, err := s.Generate(context.Background(), testParams("a red fox"), "flux-dev", 7); err != nil {
		t.Fatalf("retry Generate: %v", err)
	}
}

// Mutation invalidation: after ApplyLora a previously cached entry is
// a miss and the recomputed value differs.
func TestApplyLoraInvalidatesCache(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	before, err := s.GuidanceEncoding(ctx, "a cat", "", 256)
	if err != nil {
		t.Fatalf("GuidanceEncoding: %v", err)
	}

	if err := s.ApplyLora("/adapters/watercolor.safetensors", 0.8); err != nil {
		t.Fatalf("ApplyLora: %v", err)
	}
	if s.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d after ApplyLora, want 0", s.CacheLen())
	}

	after, err := s.GuidanceEncoding(ctx, "a cat", "", 256)
	if err != nil {
		t.Fatalf("GuidanceEncoding after LoRA: %v", err)
	}
	if stub.EncodeCalls() != 2 {
		t.Errorf("EncodeCalls() = %d, want 2 (recompute after invalidation)", stub.EncodeCalls())
	}

	b, a := before.Cond(), after.Cond()
	same := len(b) == len(a)
	if same {
		for i := range b {
			if b[i] != a[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("encoding unchanged although the adapter changed encoder output")
	}
}

func TestApplyLoraFailureStillDropsCache(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	if _, err := s.GuidanceEncoding(ctx, "a cat", "", 256); err != nil {
		t.Fatalf("GuidanceEncoding: %v", err)
	}
	if err := s.ApplyLora("", 1.0); !errors.Is(err, pipeline.ErrLoraFusionFailed) {
		t.Fatalf("error = %v, want ErrLoraFusionFailed", err)
	}
	if s.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d after failed fusion, want 0", s.CacheLen())
	}
}

func TestClearCache(t *testing.T) {
	s, stub := newTestSession(t, DefaultConfig())
	ctx := context.Background()

	s.GuidanceEncoding(ctx, "a cat", "", 256)
	s.GuidanceEncoding(ctx, "a dog", "", 256)
	s.ClearCache()

	if s.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d after ClearCache, want 0", s.CacheLen())
	}

	s.GuidanceEncoding(ctx, "a cat", "", 256)
	if stub.EncodeCalls() != 3 {
		t.Errorf("EncodeCalls() = %d, want 3 (recompute after clear)", stub.EncodeCalls())
	}
}

func TestInvalidateModelCache(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())
	s.GuidanceEncoding(context.Background(), "a cat", "", 256)

	s.InvalidateModelCache()
	if s.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d, want 0", s.CacheLen())
	}
}

func TestReloadThroughSession(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())

	s.ReleaseTextEncoder()
	if s.IsTextEncoderLoaded() {
		t.Fatal("text encoder still loaded after release")
	}
	if err := s.ReloadTextEncoder(); err != nil {
		t.Fatalf("ReloadTextEncoder: %v", err)
	}
	if !s.IsTextEncoderLoaded() {
		t.Error("text encoder not loaded after reload")
	}
	if err := s.ReloadTokenizer(); err != nil {
		t.Fatalf("ReloadTokenizer: %v", err)
	}
}

func TestReloadComponentNotLoaded(t *testing.T) {
	stub := pipeline.NewUnloadedStubPipeline()
	s, err := New(stub, testModel(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.ReloadTextEncoder(); !errors.Is(err, pipeline.ErrComponentNotLoaded) {
		t.Errorf("error = %v, want ErrComponentNotLoaded", err)
	}
}

// captureRecorder collects generation records.
type captureRecorder struct {
	mu   sync.Mutex
	recs []GenerationRecord
}

func (r *captureRecorder) RecordGeneration(rec GenerationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func TestGenerateRecordsOutcome(t *testing.T) {
	rec := &captureRecorder{}
	s, stub := newTestSession(t, DefaultConfig(), WithRecorder(rec))
	ctx := context.Background()

	if _, err := s.Generate(ctx, testParams("a red fox"), "flux-dev", 7); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	stub.SetGenerateError(errors.New("boom"))
	s.Generate(ctx, testParams("a red fox"), "flux-dev", 7)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.recs) != 2 {
		t.Fatalf("recorded %d outcomes, want 2", len(rec.recs))
	}
	first, second := rec.recs[0], rec.recs[1]
	if first.Err != "" || first.Seed != 7 || first.CacheHit {
		t.Errorf("first record = %+v, want success, seed 7, cache miss", first)
	}
	if second.Err == "" || !second.CacheHit {
		t.Errorf("second record = %+v, want failure with cache hit", second)
	}
	if first.PromptDigest == "" || first.PromptDigest != second.PromptDigest {
		t.Error("prompt digests should be non-empty and equal for equal prompts")
	}
}

// All session operations are linearized: hammer the session from many
// goroutines and verify the at-most-once encode guarantee still holds
// per distinct prompt. Run with -race.
func TestSessionSerialization(t *testing.T) {
	s, stub := newTestSession(t, FastPromptIterationConfig())
	ctx := context.Background()

	prompts := []string{"cat", "dog", "bird", "fox"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				prompt := prompts[(g+i)%len(prompts)]
				switch i % 5 {
				case 0:
					s.Generate(ctx, testParams(prompt), "flux-dev", int64(i))
				case 1:
					s.ReleaseEncoders()
				case 2:
					s.IsTextEncoderLoaded()
				default:
					s.GuidanceEncoding(ctx, prompt, "", 256)
				}
			}
		}(g)
	}
	wg.Wait()

	// Within one serialized session each distinct prompt encodes at
	// most once; releases never interleave with an in-flight encode.
	if got := stub.EncodeCalls(); got != len(prompts) {
		t.Errorf("EncodeCalls() = %d, want %d", got, len(prompts))
	}
}
