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

const (
	DefaultCropWidth  = 1835
	DefaultCropHeight = 1835
)

// CropCenterDir cuts a width x height window out of the middle of every
// frame. Frames smaller than the window keep their overlapping region.
func CropCenterDir(ctx context.Context, logger *log.Logger, in, out string, width, height int) (domain.Summary, error) {
	if width <= 0 || height <= 0 {
		return domain.Summary{}, fmt.Errorf("%w: crop size must be positive, got %dx%d", domain.ErrInvalidConfig, width, height)
	}
	logger = orDefault(logger)

	return forEach(ctx, logger, in, out, cropExtensions, func(_ context.Context, name string) (domain.Output, error) {
		img, err := imagefs.Open(filepath.Join(in, name))
		if err != nil {
			return domain.Output{}, err
		}
		cropped := imaging.CropCenter(img, width, height)
		dst := filepath.Join(out, name)
		if err := imagefs.Save(dst, cropped, Quality); err != nil {
			return domain.Output{}, err
		}
		return output(dst, cropped.Bounds().Dx(), cropped.Bounds().Dy()), nil
	})
}

// GrayToRGBDir rewrites every JPEG as a three channel image.
func GrayToRGBDir(ctx context.Context, logger *log.Logger, in, out string) (domain.Summary, error) {
	logger = orDefault(logger)

	return forEach(ctx, logger, in, out, jpegExtensions, func(_ context.Context, name string) (domain.Output, error) {
		img, err := imagefs.Open(filepath.Join(in, name))
		if err != nil {
			return domain.Output{}, err
		}
		rgb := ToRGB(img)
		dst := filepath.Join(out, name)
		if err := imagefs.Save(dst, rgb, Quality); err != nil {
			return domain.Output{}, err
		}
		return output(dst, rgb.Bounds().Dx(), rgb.Bounds().Dy()), nil
	})
}

// ToRGB converts any image to an opaque RGBA image.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// FlattenPNG prepares a PNG for JPEG output. Gray images, 8 or 16 bit, stay
// single channel. Everything else is composited onto white.
func FlattenPNG(img image.Image) image.Image {
	b := img.Bounds()
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
		return gray
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// PNGToJPEGDir converts every PNG to {stem}.jpg.
func PNGToJPEGDir(ctx context.Context, logger *log.Logger, in, out string, quality int) (domain.Summary, error) {
	logger = orDefault(logger)

	return forEach(ctx, logger, in, out, pngExtensions, func(_ context.Context, name string) (domain.Output, error) {
		img, err := imagefs.Open(filepath.Join(in, name))
		if err != nil {
			return domain.Output{}, err
		}
		flat := FlattenPNG(img)
		dst := filepath.Join(out, imagefs.Stem(name)+".jpg")
		if err := imagefs.Save(dst, flat, quality); err != nil {
			return domain.Output{}, err
		}
		return output(dst, flat.Bounds().Dx(), flat.Bounds().Dy()), nil
	})
}
