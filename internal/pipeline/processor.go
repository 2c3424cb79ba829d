package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dunamismax/solarprep/internal/domain"
)

var ErrEmptyImage = errors.New("image has no pixels")

// Processor turns one decoded frame into its output units: the whole frame,
// or its tiles when tiling is enabled.
type Processor struct {
	effects  []Effect
	tiler    *Tiler
	colorize bool
}

// NewProcessor validates the configuration and builds the stage chain. It is
// the single place a bad configuration is rejected, before any file is read.
func NewProcessor(cfg domain.EffectConfig, out domain.OutputOptions) (*Processor, error) {
	effects, err := NewEffects(cfg)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		effects:  effects,
		colorize: out.Colorize,
	}
	if out.Tile {
		tiler := NewTiler(out.EffectiveTileSize())
		p.tiler = &tiler
	}
	return p, nil
}

func (p *Processor) Tiled() bool {
	return p.tiler != nil
}

func (p *Processor) Process(ctx context.Context, src image.Image) ([]image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if b := src.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	frame := ApplyEffects(LuminanceFromImage(src), p.effects).Gray()

	units := []*image.Gray{frame}
	if p.tiler != nil {
		tiles, err := p.tiler.Tile(frame)
		if err != nil {
			return nil, fmt.Errorf("tile stage: %w", err)
		}
		units = tiles
	}

	out := make([]image.Image, len(units))
	for i, u := range units {
		if p.colorize {
			out[i] = Colorize(u)
		} else {
			out[i] = u
		}
	}
	return out, nil
}
