package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks configuration problems that must stop a run before
// any input is opened.
var ErrInvalidConfig = errors.New("invalid configuration")

// EffectKind names one stage of the degradation chain.
type EffectKind string

const (
	EffectContrast EffectKind = "contrast"
	EffectBlur     EffectKind = "blur"
	EffectWarp     EffectKind = "warp"
)

const (
	DefaultKernelSize     = 5
	DefaultAmplitude      = 2.0
	DefaultFrequency      = 10.0
	DefaultContrastFactor = 0.5
	DefaultTileSize       = 256
)

// EffectConfig describes which degradations run and with what parameters.
type EffectConfig struct {
	KernelSize     int     `json:"kernel_size" toml:"kernel_size"`
	Amplitude      float64 `json:"amplitude" toml:"amplitude"`
	Frequency      float64 `json:"frequency" toml:"frequency"`
	ContrastFactor float64 `json:"contrast_factor" toml:"contrast_factor"`

	Contrast   bool `json:"enable_contrast" toml:"enable_contrast"`
	Blur       bool `json:"enable_blur" toml:"enable_blur"`
	Turbulence bool `json:"enable_turbulence" toml:"enable_turbulence"`
}

func DefaultEffectConfig() EffectConfig {
	return EffectConfig{
		KernelSize:     DefaultKernelSize,
		Amplitude:      DefaultAmplitude,
		Frequency:      DefaultFrequency,
		ContrastFactor: DefaultContrastFactor,
	}
}

// Kinds returns the enabled effects in application order. Contrast and blur
// always precede the warp.
func (c EffectConfig) Kinds() []EffectKind {
	kinds := make([]EffectKind, 0, 3)
	if c.Contrast {
		kinds = append(kinds, EffectContrast)
	}
	if c.Blur {
		kinds = append(kinds, EffectBlur)
	}
	if c.Turbulence {
		kinds = append(kinds, EffectWarp)
	}
	return kinds
}

// Validate checks every parameter, enabled or not, so a bad value is caught
// once up front rather than on the first file that needs it.
func (c EffectConfig) Validate() error {
	if c.KernelSize < 1 || c.KernelSize%2 == 0 {
		return fmt.Errorf("%w: kernel_size must be an odd integer >= 1, got %d", ErrInvalidConfig, c.KernelSize)
	}
	if c.Amplitude < 0 {
		return fmt.Errorf("%w: amplitude must be >= 0, got %g", ErrInvalidConfig, c.Amplitude)
	}
	if c.Frequency < 0 {
		return fmt.Errorf("%w: frequency must be >= 0, got %g", ErrInvalidConfig, c.Frequency)
	}
	if c.ContrastFactor < 0 || c.ContrastFactor > 1 {
		return fmt.Errorf("%w: contrast_factor must be within [0,1], got %g", ErrInvalidConfig, c.ContrastFactor)
	}
	return nil
}

// OutputOptions control what happens after the effect chain.
type OutputOptions struct {
	Tile     bool `json:"tile" toml:"tile"`
	TileSize int  `json:"tile_size,omitempty" toml:"tile_size"`
	Colorize bool `json:"colorize" toml:"colorize"`
	// MaxOutputs caps the units (images or tiles) a run may emit. Nil means
	// unbounded; an explicit zero emits nothing.
	MaxOutputs *int `json:"max_outputs,omitempty" toml:"max_outputs"`
}

// Cap returns a MaxOutputs value of n.
func Cap(n int) *int {
	return &n
}

// Limit is MaxOutputs as a plain count, -1 when unbounded.
func (o OutputOptions) Limit() int {
	if o.MaxOutputs == nil {
		return -1
	}
	return *o.MaxOutputs
}

func (o OutputOptions) EffectiveTileSize() int {
	if o.TileSize <= 0 {
		return DefaultTileSize
	}
	return o.TileSize
}

func (o OutputOptions) Validate() error {
	if o.TileSize < 0 {
		return fmt.Errorf("%w: tile_size must be positive, got %d", ErrInvalidConfig, o.TileSize)
	}
	if o.MaxOutputs != nil && *o.MaxOutputs < 0 {
		return fmt.Errorf("%w: max_outputs must be >= 0, got %d", ErrInvalidConfig, *o.MaxOutputs)
	}
	return nil
}
