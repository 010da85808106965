package pipeline

import "testing"

// A cached encoding must be an independently-owned snapshot: mutating
// the buffers the engine handed in, or the slices handed out, must not
// change the stored values.
func TestEncodingIsImmutableSnapshot(t *testing.T) {
	uncond := []float32{0.1, 0.2}
	cond := []float32{0.3, 0.4}
	masks := []int32{1, 1}

	enc := NewEncoding(uncond, cond, masks, 256)

	// Mutate the source buffers after construction.
	uncond[0] = 99
	cond[0] = 99
	masks[0] = 99

	if got := enc.Uncond()[0]; got != 0.1 {
		t.Errorf("Uncond[0] = %g after source mutation, want 0.1", got)
	}
	if got := enc.Cond()[0]; got != 0.3 {
		t.Errorf("Cond[0] = %g after source mutation, want 0.3", got)
	}
	if got := enc.Masks()[0]; got != 1 {
		t.Errorf("Masks[0] = %d after source mutation, want 1", got)
	}

	// Mutate an accessor result; a second read must be unaffected.
	view := enc.Cond()
	view[1] = -1
	if got := enc.Cond()[1]; got != 0.4 {
		t.Errorf("Cond[1] = %g after view mutation, want 0.4", got)
	}
}

func TestEncodingMetadata(t *testing.T) {
	enc := NewEncoding(nil, []float32{1, 2, 3}, nil, 128)
	if enc.MaxLength() != 128 {
		t.Errorf("MaxLength() = %d, want 128", enc.MaxLength())
	}
	if enc.Len() != 3 {
		t.Errorf("Len() = %d, want 3", enc.Len())
	}
}
