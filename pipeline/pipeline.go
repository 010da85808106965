// Package pipeline defines the contract between the session layer and
// a local image-generation engine, plus the parameter atoms shared by
// every engine implementation.
//
// The engine is opaque to callers: the session layer only ever talks
// to the Pipeline interface, and all invocations happen inside one
// session's serialized context. Implementations therefore do not need
// to be safe for concurrent mutation.
package pipeline

import (
	"context"
	"fmt"
)

// Pipeline is the capability the session layer orchestrates.
//
// Encode is pure given (loaded weights, text) and may auto-load the
// tokenizer and text encoder from a recorded weights location if they
// are absent. Generate is the denoising/decoding phase and requires
// the denoiser and decoder components loaded. Release of an absent
// component is a no-op; Reload of a component whose weights location
// was never recorded fails with ErrComponentNotLoaded.
type Pipeline interface {
	Encode(ctx context.Context, prompt, negativePrompt string, maxLength int) (*Encoding, error)
	Generate(ctx context.Context, params GenerateParams, model string, enc *Encoding, seed int64) (*Image, error)

	ReleaseTextEncoder()
	ReleaseVisionTower()
	ReleaseEncoders()
	ReloadTextEncoder() error
	ReloadTokenizer() error

	ApplyLora(source string, scale float64) error

	IsTextEncoderLoaded() bool
	IsTokenizerLoaded() bool
	IsVisionTowerLoaded() bool
	IsUNetLoaded() bool
	IsVAELoaded() bool
}

// Image is a decoded pixel tensor in HWC layout, values in [0, 1].
type Image struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// GenerateParams holds parameters for image generation.
type GenerateParams struct {
	Prompt         string  // Required: text description of the image to generate
	NegativePrompt string  // Optional: what to avoid in the image
	Width          int     // Image width in pixels (128-2048, must be divisible by 8)
	Height         int     // Image height in pixels (128-2048, must be divisible by 8)
	Steps          int     // Number of inference steps (1-100)
	CFGScale       float64 // Classifier-free guidance scale (1.0-30.0)
	MaxLength      int     // Prompt token budget for encoding (16-1024)
}

// Parameter validation constants
const (
	MinImageSize      = 128
	MaxImageSize      = 2048
	ImageSizeMultiple = 8 // Image dimensions must be divisible by this

	MinSteps = 1
	MaxSteps = 100

	MinCFGScale = 1.0
	MaxCFGScale = 30.0

	MinMaxLength = 16
	MaxMaxLength = 1024

	MaxPromptLength = 1000
)

// DefaultParams returns generation parameters suitable for a quick
// 512x512 render.
func DefaultParams() GenerateParams {
	return GenerateParams{
		Width:     512,
		Height:    512,
		Steps:     20,
		CFGScale:  7.5,
		MaxLength: 256,
	}
}

// ValidateParams validates generation parameters and returns an error
// if invalid. This is a pure function with no side effects.
func ValidateParams(p GenerateParams) error {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}

	if p.Width < MinImageSize || p.Width > MaxImageSize {
		return fmt.Errorf("%w: width %d must be between %d and %d",
			ErrInvalidParams, p.Width, MinImageSize, MaxImageSize)
	}
	if p.Width%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: width %d must be divisible by %d",
			ErrInvalidParams, p.Width, ImageSizeMultiple)
	}

	if p.Height < MinImageSize || p.Height > MaxImageSize {
		return fmt.Errorf("%w: height %d must be between %d and %d",
			ErrInvalidParams, p.Height, MinImageSize, MaxImageSize)
	}
	if p.Height%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: height %d must be divisible by %d",
			ErrInvalidParams, p.Height, ImageSizeMultiple)
	}

	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}

	if p.CFGScale < MinCFGScale || p.CFGScale > MaxCFGScale {
		return fmt.Errorf("%w: CFGScale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.CFGScale, MinCFGScale, MaxCFGScale)
	}

	if p.MaxLength < MinMaxLength || p.MaxLength > MaxMaxLength {
		return fmt.Errorf("%w: max length %d must be between %d and %d",
			ErrInvalidParams, p.MaxLength, MinMaxLength, MaxMaxLength)
	}

	// Negative prompt is optional, but if provided, validate length
	if len(p.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, len(p.NegativePrompt), MaxPromptLength)
	}

	return nil
}

// ValidatePrompt checks that a prompt is non-empty and within the
// length limit.
func ValidatePrompt(prompt string) error {
	if prompt == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidPrompt)
	}
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d",
			ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}
	return nil
}
