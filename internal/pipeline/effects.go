package pipeline

import (
	"fmt"
	"math"

	"github.com/dunamismax/solarprep/internal/domain"
)

// MidGray is the level a fully flattened frame collapses to. It sits below
// the arithmetic midpoint to match the dark sky of the source footage.
const MidGray = 90

// Effect is one stage of the degradation chain.
type Effect interface {
	Kind() domain.EffectKind
	Apply(src *Luminance) *Luminance
}

// NewEffects validates cfg and returns the enabled effects in the order they
// must run.
func NewEffects(cfg domain.EffectConfig) ([]Effect, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kinds := cfg.Kinds()
	effects := make([]Effect, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case domain.EffectContrast:
			effects = append(effects, Contrast{Factor: cfg.ContrastFactor})
		case domain.EffectBlur:
			effects = append(effects, BoxBlur{Size: cfg.KernelSize})
		case domain.EffectWarp:
			effects = append(effects, Warp{Amplitude: cfg.Amplitude, Frequency: cfg.Frequency})
		default:
			return nil, fmt.Errorf("%w: unknown effect %q", domain.ErrInvalidConfig, kind)
		}
	}
	return effects, nil
}

// ApplyEffects runs effects over src in sequence. src is never modified.
func ApplyEffects(src *Luminance, effects []Effect) *Luminance {
	out := src
	for _, e := range effects {
		out = e.Apply(out)
	}
	return out
}

// Contrast pulls every sample towards MidGray. Factor 1 is the identity and
// factor 0 flattens the frame.
type Contrast struct {
	Factor float64
}

func (Contrast) Kind() domain.EffectKind { return domain.EffectContrast }

func (c Contrast) Apply(src *Luminance) *Luminance {
	out := NewLuminance(src.Width, src.Height)
	offset := MidGray * (1 - c.Factor)
	for i, v := range src.Pix {
		out.Pix[i] = clampSample(float32(float64(v)*c.Factor + offset))
	}
	return out
}

// BoxBlur convolves with a normalized Size x Size box kernel. The output has
// the input's dimensions; samples outside the frame count as zero, so edges
// darken the way a zero-padded "same" convolution does.
type BoxBlur struct {
	Size int
}

func (BoxBlur) Kind() domain.EffectKind { return domain.EffectBlur }

func (b BoxBlur) Apply(src *Luminance) *Luminance {
	w, h := src.Width, src.Height
	out := NewLuminance(w, h)
	if w == 0 || h == 0 {
		return out
	}
	radius := b.Size / 2

	// The box kernel is separable: sum rows first, then columns, and divide
	// once so integer inputs stay exact.
	rows := make([]float64, w*h)
	prefix := make([]float64, max(w, h)+1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			prefix[x+1] = prefix[x] + float64(src.Pix[y*w+x])
		}
		for x := 0; x < w; x++ {
			lo := max(0, x-radius)
			hi := min(w, x+radius+1)
			rows[y*w+x] = prefix[hi] - prefix[lo]
		}
	}

	norm := float64(b.Size * b.Size)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			prefix[y+1] = prefix[y] + rows[y*w+x]
		}
		for y := 0; y < h; y++ {
			lo := max(0, y-radius)
			hi := min(h, y+radius+1)
			out.Pix[y*w+x] = float32((prefix[hi] - prefix[lo]) / norm)
		}
	}
	return out
}

// Warp resamples the frame through two orthogonal sine waves. The wave
// running along x shifts the sampled row and the wave running along y
// shifts the sampled column, which bends straight edges into a shimmer.
// Displacement never exceeds Amplitude pixels.
type Warp struct {
	Amplitude float64
	Frequency float64
}

func (Warp) Kind() domain.EffectKind { return domain.EffectWarp }

// Field returns the displacement for every column (dx) and every row (dy).
func (wp Warp) Field(width, height int) (dx, dy []float64) {
	dx = make([]float64, width)
	for x := range dx {
		dx[x] = wp.Amplitude * math.Sin(2*math.Pi*wp.Frequency*float64(x)/float64(width))
	}
	dy = make([]float64, height)
	for y := range dy {
		dy[y] = wp.Amplitude * math.Sin(2*math.Pi*wp.Frequency*float64(y)/float64(height))
	}
	return dx, dy
}

func (wp Warp) Apply(src *Luminance) *Luminance {
	w, h := src.Width, src.Height
	out := NewLuminance(w, h)
	if w == 0 || h == 0 {
		return out
	}

	dx, dy := wp.Field(w, h)
	maxX, maxY := float64(w-1), float64(h-1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sy := clampCoord(float64(y)+dx[x], maxY)
			sx := clampCoord(float64(x)+dy[y], maxX)
			out.Pix[y*w+x] = float32(bilinear(src, sx, sy))
		}
	}
	return out
}

func clampCoord(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

func bilinear(src *Luminance, x, y float64) float64 {
	x0f, y0f := math.Floor(x), math.Floor(y)
	fx, fy := x-x0f, y-y0f
	x0, y0 := int(x0f), int(y0f)
	x1 := reflectIndex(x0+1, src.Width)
	y1 := reflectIndex(y0+1, src.Height)
	x0 = reflectIndex(x0, src.Width)
	y0 = reflectIndex(y0, src.Height)

	top := (1-fx)*float64(src.At(x0, y0)) + fx*float64(src.At(x1, y0))
	bottom := (1-fx)*float64(src.At(x0, y1)) + fx*float64(src.At(x1, y1))
	return (1-fy)*top + fy*bottom
}

// reflectIndex folds i into [0,n) by mirroring about the edges, repeating
// the edge sample (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
