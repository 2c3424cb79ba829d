package pipeline

import (
	"image"

	"golang.org/x/image/draw"
)

// Luminance is a single-channel float plane in row-major order. Values stay
// in float between effects and are only clamped and quantized when the plane
// is turned back into an image.
type Luminance struct {
	Width  int
	Height int
	Pix    []float32
}

func NewLuminance(width, height int) *Luminance {
	return &Luminance{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height),
	}
}

// LuminanceFromImage converts any decoded image to luminance using the
// ITU-R 601 weights of color.GrayModel.
func LuminanceFromImage(src image.Image) *Luminance {
	gray := toGray(src)
	b := gray.Bounds()
	lum := NewLuminance(b.Dx(), b.Dy())
	for y := 0; y < lum.Height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+lum.Width]
		dst := lum.Pix[y*lum.Width : (y+1)*lum.Width]
		for x, v := range row {
			dst[x] = float32(v)
		}
	}
	return lum
}

func (l *Luminance) At(x, y int) float32 {
	return l.Pix[y*l.Width+x]
}

// Gray clamps every sample to [0,255] and truncates it to 8 bits, so 95.5
// becomes 95.
func (l *Luminance) Gray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		src := l.Pix[y*l.Width : (y+1)*l.Width]
		dst := out.Pix[y*out.Stride : y*out.Stride+l.Width]
		for x, v := range src {
			dst[x] = uint8(clampSample(v))
		}
	}
	return out
}

func clampSample(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return v
	}
}

// toGray returns src as an origin-anchored *image.Gray, converting when
// needed. 16-bit sources keep their high byte.
func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
