// Package session provides the serialized orchestrator that owns one
// loaded model's pipeline handle and its encoding cache.
//
// A Session is the only component permitted to invoke or mutate the
// pipeline handle. Every public method runs under the session mutex,
// so at most one operation is in flight per session and interleavings
// such as one caller's encoder release racing another caller's
// in-flight encode cannot occur. Concurrent callers queue in mutex
// acquisition order; the dominant latency source is the device-bound
// encode/generate call itself, which is deliberately not parallelized
// because the underlying compute graph is not safely shareable across
// concurrent invocations.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdhost/logging"
	"sdhost/memorypolicy"
	"sdhost/pipeline"
	"sdhost/promptcache"
)

// ModelInfo identifies the loaded model a session fronts. All fields
// participate in cache keys.
type ModelInfo struct {
	ModelID        string
	Revision       string
	QuantizationID string
	DType          string
}

// GenerationRecord is the outcome of one Generate call, offered to an
// optional Recorder. The prompt is carried as a digest, never as text.
type GenerationRecord struct {
	SessionID    string
	ModelID      string
	PromptDigest string
	Seed         int64
	Steps        int
	CacheHit     bool
	Duration     time.Duration
	Err          string
}

// Recorder receives generation outcomes. Implementations must not
// block; the session calls it synchronously on the generate path.
type Recorder interface {
	RecordGeneration(rec GenerationRecord)
}

// Session orchestrates the encode -> cache -> generate -> release
// workflow for one loaded model. Create one per loaded model; it is
// long-lived and has no terminal state. There is no teardown beyond
// releasing the underlying pipeline's components.
type Session struct {
	mu sync.Mutex

	id    string
	model ModelInfo
	cfg   Config

	pipe  pipeline.Pipeline
	cache *promptcache.Cache[promptcache.PromptKey, *pipeline.Encoding]

	logger   *zap.Logger
	recorder Recorder
}

// Option customizes a Session at construction.
type Option func(*Session)

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder attaches a generation-outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// New creates a Session owning pipe and a fresh encoding cache sized
// per cfg. If cfg carries a device cache limit it is applied to alloc
// immediately (alloc may be nil to skip this; the ceiling is
// process-global, last writer wins).
func New(pipe pipeline.Pipeline, model ModelInfo, cfg Config, alloc memorypolicy.Allocator, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := promptcache.New[promptcache.PromptKey, *pipeline.Encoding](cfg.MaxCacheEntries)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		model:  model,
		cfg:    cfg,
		pipe:   pipe,
		cache:  cache,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.DeviceCacheLimitBytes > 0 && alloc != nil {
		alloc.SetCacheLimit(cfg.DeviceCacheLimitBytes)
		s.logger.Info("device cache ceiling applied",
			zap.String("session_id", s.id),
			zap.String("limit", memorypolicy.FormatBytes(cfg.DeviceCacheLimitBytes)))
	}

	s.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("model_id", model.ModelID),
		zap.String("revision", model.Revision),
		zap.Int("max_cache_entries", cfg.MaxCacheEntries),
		zap.Bool("release_after_encoding", cfg.ReleaseAfterEncoding))
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Model returns the identity of the model this session fronts.
func (s *Session) Model() ModelInfo { return s.model }

// keyFor builds the cache key for a prompt pair from the session's
// model identity.
func (s *Session) keyFor(prompt, negativePrompt string, maxLength int) promptcache.PromptKey {
	return promptcache.PromptKey{
		ModelID:        s.model.ModelID,
		Revision:       s.model.Revision,
		QuantizationID: s.model.QuantizationID,
		DType:          s.model.DType,
		MaxLength:      maxLength,
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
	}
}

// GuidanceEncoding returns the guidance encoding for the prompt pair,
// computing and caching it on first use. For a fixed key the expensive
// pipeline encode runs at most once per cache lifetime; repeated calls
// are served from cache until invalidated or evicted.
//
// A failed encode never populates the cache. Misses on the same key
// from separate sessions are not coalesced; the later write wins and
// final state is still correct.
func (s *Session) GuidanceEncoding(ctx context.Context, prompt, negativePrompt string, maxLength int) (*pipeline.Encoding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, _, err := s.guidanceEncodingLocked(ctx, prompt, negativePrompt, maxLength)
	return enc, err
}

func (s *Session) guidanceEncodingLocked(ctx context.Context, prompt, negativePrompt string, maxLength int) (*pipeline.Encoding, bool, error) {
	key := s.keyFor(prompt, negativePrompt, maxLength)

	if enc, ok := s.cache.Get(key); ok {
		s.logger.Debug("guidance encoding cache hit",
			zap.String("session_id", s.id),
			zap.Int("max_length", maxLength))
		return enc, true, nil
	}

	start := time.Now()
	enc, err := s.pipe.Encode(ctx, prompt, negativePrompt, maxLength)
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(key, enc)

	s.logger.Debug("guidance encoding computed",
		zap.String("session_id", s.id),
		zap.Int("max_length", maxLength),
		zap.Duration("encode_time", time.Since(start)),
		zap.Int("cache_len", s.cache.Len()))
	return enc, false, nil
}

// Generate runs the full workflow: obtain a guidance encoding (cached
// or computed), optionally release the encoder-side components, then
// run the denoising/decoding phase. seed < 0 selects a random seed.
//
// When ReleaseAfterEncoding is enabled the encoders are released
// strictly before generation begins; this is an ordering guarantee,
// not merely eventual. Errors from encode or generate propagate
// unchanged; inference failures are not transient, so there is no
// retry.
func (s *Session) Generate(ctx context.Context, params pipeline.GenerateParams, model string, seed int64) (*pipeline.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	enc, cacheHit, err := s.guidanceEncodingLocked(ctx, params.Prompt, params.NegativePrompt, params.MaxLength)
	if err != nil {
		s.record(params, seed, cacheHit, time.Since(start), err)
		return nil, err
	}

	if s.cfg.ReleaseAfterEncoding {
		s.pipe.ReleaseEncoders()
		s.logger.Debug("encoders released before generation",
			zap.String("session_id", s.id))
	}

	if seed < 0 {
		seed = pipeline.RandomSeed()
	}

	img, err := s.pipe.Generate(ctx, params, model, enc, seed)
	duration := time.Since(start)
	s.record(params, seed, cacheHit, duration, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("image generated",
		logging.GenerationFields(s.id, model, seed, params.Steps, cacheHit, duration)...)
	return img, nil
}

// record offers the outcome to the recorder, if any.
func (s *Session) record(params pipeline.GenerateParams, seed int64, cacheHit bool, d time.Duration, err error) {
	if s.recorder == nil {
		return
	}
	rec := GenerationRecord{
		SessionID:    s.id,
		ModelID:      s.model.ModelID,
		PromptDigest: promptcache.ComputeDigest(promptcache.DigestXXHash64, []byte(params.Prompt)),
		Seed:         seed,
		Steps:        params.Steps,
		CacheHit:     cacheHit,
		Duration:     d,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	s.recorder.RecordGeneration(rec)
}

// ReleaseEncoders eagerly releases the text encoder and vision tower.
// Idempotent if the components are already absent.
func (s *Session) ReleaseEncoders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipe.ReleaseEncoders()
}

// ReleaseTextEncoder eagerly releases the text encoder.
func (s *Session) ReleaseTextEncoder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipe.ReleaseTextEncoder()
}

// ReleaseVisionTower eagerly releases the vision tower.
func (s *Session) ReleaseVisionTower() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipe.ReleaseVisionTower()
}

// ReloadTextEncoder re-materializes the text encoder from its recorded
// weights location. Fails with pipeline.ErrComponentNotLoaded if no
// location was ever recorded.
func (s *Session) ReloadTextEncoder() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.ReloadTextEncoder()
}

// ReloadTokenizer re-materializes the tokenizer from its recorded
// weights location.
func (s *Session) ReloadTokenizer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.ReloadTokenizer()
}

// ClearCache drops every cached encoding. Cannot fail.
func (s *Session) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cache.InvalidateAll()
	s.logger.Debug("encoding cache cleared",
		zap.String("session_id", s.id),
		zap.Int("entries_dropped", n))
}

// InvalidateModelCache drops cached encodings for this session's
// model and revision.
func (s *Session) InvalidateModelCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.InvalidateFunc(promptcache.MatchModel(s.model.ModelID, s.model.Revision))
}

// ApplyLora fuses adapter weights into the pipeline and then
// invalidates the entire encoding cache. Cached values are not
// LoRA-identity-qualified, so every entry computed against the
// superseded weights must go; the invalidation happens strictly after
// fusion returns, so no reader can observe a stale encoding. The cache
// is dropped even when fusion fails, because the weight state is then
// unknown.
func (s *Session) ApplyLora(source string, scale float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.pipe.ApplyLora(source, scale)
	n := s.cache.InvalidateAll()

	if err != nil {
		s.logger.Error("LoRA fusion failed",
			zap.String("session_id", s.id),
			zap.String("source", source),
			zap.Error(err))
		return err
	}
	s.logger.Info("LoRA applied, encoding cache invalidated",
		zap.String("session_id", s.id),
		zap.String("source", source),
		zap.Float64("scale", scale),
		zap.Int("entries_dropped", n))
	return nil
}

// CacheLen returns the number of cached encodings.
func (s *Session) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Status probes: side-effect-free reads of component presence.

func (s *Session) IsTextEncoderLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.IsTextEncoderLoaded()
}

func (s *Session) IsTokenizerLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.IsTokenizerLoaded()
}

func (s *Session) IsVisionTowerLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.IsVisionTowerLoaded()
}

func (s *Session) IsUNetLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.IsUNetLoaded()
}

func (s *Session) IsVAELoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.IsVAELoaded()
}
