package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Image conversion errors.
var (
	ErrImageEmpty   = errors.New("pipeline: image is empty")
	ErrImageInvalid = errors.New("pipeline: image tensor does not match its dimensions")
)

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return len(data) >= len(pngMagic) && bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// EncodePNG converts a generated image tensor to PNG bytes. Channel
// values are clamped to [0, 1] before quantization; the tensor layout
// is row-major, channels interleaved. Only 1 and 3 channel images are
// supported.
func EncodePNG(img *Image) ([]byte, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, ErrImageEmpty
	}
	if img.Channels != 1 && img.Channels != 3 {
		return nil, fmt.Errorf("%w: %d channels", ErrImageInvalid, img.Channels)
	}
	if len(img.Data) != img.Width*img.Height*img.Channels {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d",
			ErrImageInvalid, len(img.Data), img.Width, img.Height, img.Channels)
	}

	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := (y*img.Width + x) * img.Channels
			var r, g, b uint8
			if img.Channels == 1 {
				r = quantize(img.Data[i])
				g, b = r, r
			} else {
				r = quantize(img.Data[i])
				g = quantize(img.Data[i+1])
				b = quantize(img.Data[i+2])
			}
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 0xFF})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("pipeline: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
