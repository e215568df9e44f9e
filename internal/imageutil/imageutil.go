// Package imageutil shrinks captured frames before they are sent to a model.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// Downscale decodes a PNG and, when it is wider than maxWidth, resizes it
// preserving aspect ratio. The result is re-encoded with best compression.
// Frames already narrow enough are re-encoded unchanged.
func Downscale(frame []byte, maxWidth int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	b := src.Bounds()
	out := src
	if maxWidth > 0 && b.Dx() > maxWidth {
		height := b.Dy() * maxWidth / b.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Size reports the pixel dimensions of a PNG without decoding pixel data.
func Size(frame []byte) (width, height int, err error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodePNG encodes img with default compression.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
