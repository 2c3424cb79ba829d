//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsResizer struct{}

func (govipsResizer) Resize(src image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize requires positive dimensions")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("encode resize input: %w", err)
	}

	img, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load resize input: %w", err)
	}
	defer img.Close()

	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, fmt.Errorf("source image has invalid dimensions")
	}

	hScale := float64(width) / float64(img.Width())
	vScale := float64(height) / float64(img.Height())
	if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}
	if img.Width() != width || img.Height() != height {
		return nil, fmt.Errorf("resize produced %dx%d, want %dx%d", img.Width(), img.Height(), width, height)
	}

	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode resized image: %w", err)
	}
	return out, nil
}
