package prep

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
)

// DefaultCornerSize hides the timestamp and logo overlays of the source
// camera.
const DefaultCornerSize = 260

// MaskCorners paints a black size x size square into each corner.
func MaskCorners(img image.Image, size int) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	black := image.NewUniform(color.Black)
	for _, r := range []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+size, b.Min.Y+size),
		image.Rect(b.Max.X-size, b.Min.Y, b.Max.X, b.Min.Y+size),
		image.Rect(b.Min.X, b.Max.Y-size, b.Min.X+size, b.Max.Y),
		image.Rect(b.Max.X-size, b.Max.Y-size, b.Max.X, b.Max.Y),
	} {
		draw.Draw(out, r.Intersect(b), black, image.Point{}, draw.Src)
	}
	return out
}

// MaskCornersDir applies MaskCorners to every JPEG in in.
func MaskCornersDir(ctx context.Context, logger *log.Logger, in, out string, size int) (domain.Summary, error) {
	if size <= 0 {
		return domain.Summary{}, fmt.Errorf("%w: corner size must be positive, got %d", domain.ErrInvalidConfig, size)
	}
	logger = orDefault(logger)

	return forEach(ctx, logger, in, out, jpegExtensions, func(_ context.Context, name string) (domain.Output, error) {
		img, err := imagefs.Open(filepath.Join(in, name))
		if err != nil {
			return domain.Output{}, err
		}
		masked := MaskCorners(img, size)
		dst := filepath.Join(out, name)
		if err := imagefs.Save(dst, masked, Quality); err != nil {
			return domain.Output{}, err
		}
		return output(dst, masked.Bounds().Dx(), masked.Bounds().Dy()), nil
	})
}
