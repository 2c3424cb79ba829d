package pipeline

import (
	"image"
)

// Colorize copies a single channel into identical R, G and B channels. It
// does not invent color; the result is a three-channel gray image.
func Colorize(src *image.Gray) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		row := src.Pix[off : off+b.Dx()]
		dst := out.Pix[y*out.Stride : y*out.Stride+4*b.Dx()]
		for x, v := range row {
			i := 4 * x
			dst[i] = v
			dst[i+1] = v
			dst[i+2] = v
			dst[i+3] = 0xff
		}
	}
	return out
}
