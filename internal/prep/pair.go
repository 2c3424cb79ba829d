package prep

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
)

var ErrPairCountMismatch = errors.New("folders hold a different number of images")

// PairImages places b to the right of a on a black canvas as tall as a.
// Parts of b below that height are cut off.
func PairImages(a, b image.Image) *image.NRGBA {
	ab, bb := a.Bounds(), b.Bounds()
	dst := imaging.New(ab.Dx()+bb.Dx(), ab.Dy(), color.NRGBA{A: 0xff})
	dst = imaging.Paste(dst, a, image.Pt(0, 0))
	return imaging.Paste(dst, b, image.Pt(ab.Dx(), 0))
}

// PairDir pairs the sorted contents of dirA and dirB one to one.
func PairDir(ctx context.Context, logger *log.Logger, dirA, dirB, out string) (domain.Summary, error) {
	logger = orDefault(logger)

	namesA, err := imagefs.List(dirA, imagefs.FrameExtensions)
	if err != nil {
		return domain.Summary{}, err
	}
	namesB, err := imagefs.List(dirB, imagefs.FrameExtensions)
	if err != nil {
		return domain.Summary{}, err
	}
	if len(namesA) != len(namesB) {
		return domain.Summary{}, fmt.Errorf("%w: %s has %d, %s has %d", ErrPairCountMismatch, dirA, len(namesA), dirB, len(namesB))
	}

	partner := make(map[string]string, len(namesA))
	for i, name := range namesA {
		partner[name] = namesB[i]
	}

	return forEach(ctx, logger, dirA, out, imagefs.FrameExtensions, func(_ context.Context, name string) (domain.Output, error) {
		a, err := imagefs.Open(filepath.Join(dirA, name))
		if err != nil {
			return domain.Output{}, err
		}
		b, err := imagefs.Open(filepath.Join(dirB, partner[name]))
		if err != nil {
			return domain.Output{}, err
		}
		paired := PairImages(a, b)
		dst := filepath.Join(out, "paired_"+imagefs.Stem(name)+".jpg")
		if err := imagefs.Save(dst, paired, Quality); err != nil {
			return domain.Output{}, err
		}
		return output(dst, paired.Bounds().Dx(), paired.Bounds().Dy()), nil
	})
}
