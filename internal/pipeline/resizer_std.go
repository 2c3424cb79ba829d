package pipeline

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

type lanczosResizer struct{}

func (lanczosResizer) Resize(src image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("resize requires positive dimensions")
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("source image has invalid dimensions")
	}
	return imaging.Resize(src, width, height, imaging.Lanczos), nil
}
