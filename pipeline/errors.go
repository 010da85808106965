// Package pipeline defines the contract between the session layer and
// a local image-generation engine.
package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations.
var (
	// Input validation errors
	ErrInvalidPrompt = errors.New("pipeline: invalid prompt")
	ErrInvalidParams = errors.New("pipeline: invalid generation parameters")

	// Engine errors
	ErrEncodeFailed       = errors.New("pipeline: prompt encoding failed")
	ErrGenerateFailed     = errors.New("pipeline: image generation failed")
	ErrOutOfDeviceMemory  = errors.New("pipeline: out of device memory")
	ErrLoraFusionFailed   = errors.New("pipeline: LoRA weight fusion failed")
	ErrComponentNotLoaded = errors.New("pipeline: component not loaded")
)

// Component names a pipeline sub-component that can be independently
// loaded and released.
type Component string

const (
	ComponentTokenizer   Component = "tokenizer"
	ComponentTextEncoder Component = "textEncoder"
	ComponentVisionTower Component = "visionTower"
	ComponentUNet        Component = "unet"
	ComponentVAE         Component = "vae"
)

// ComponentNotLoadedError reports that an operation required a
// component that is neither loaded nor reloadable from a recorded
// weights location. It matches ErrComponentNotLoaded via errors.Is.
type ComponentNotLoadedError struct {
	Component Component
}

func (e *ComponentNotLoadedError) Error() string {
	return fmt.Sprintf("pipeline: component %q not loaded and no weights location recorded", e.Component)
}

// Is makes errors.Is(err, ErrComponentNotLoaded) succeed.
func (e *ComponentNotLoadedError) Is(target error) bool {
	return target == ErrComponentNotLoaded
}
