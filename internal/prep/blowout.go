package prep

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
)

const (
	DefaultBlowoutThreshold  = 230
	DefaultBlowoutPercentage = 20.0
)

type BlowoutOptions struct {
	// Threshold is the value every channel must exceed for a pixel to count
	// as white.
	Threshold uint8
	// Percentage of white pixels above which a frame is blown out.
	Percentage float64
}

func DefaultBlowoutOptions() BlowoutOptions {
	return BlowoutOptions{Threshold: DefaultBlowoutThreshold, Percentage: DefaultBlowoutPercentage}
}

// BlowoutReport splits a folder into usable and blown-out frames. A file
// that fails to decode cannot be shown to be blown out, so it is kept and
// also counted as failed in Summary.
type BlowoutReport struct {
	Kept    []string
	Blown   []string
	Summary domain.Summary
}

// WhiteRatio is the percentage of pixels whose R, G and B all exceed
// threshold. Alpha is ignored.
func WhiteRatio(img image.Image, threshold uint8) float64 {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	white := 0
	for y := 0; y < b.Dy(); y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*b.Dx()]
		for i := 0; i < len(row); i += 4 {
			if row[i] > threshold && row[i+1] > threshold && row[i+2] > threshold {
				white++
			}
		}
	}
	return float64(white) * 100 / float64(total)
}

func IsBlownOut(img image.Image, opts BlowoutOptions) bool {
	return WhiteRatio(img, opts.Threshold) > opts.Percentage
}

// ScanBlowout classifies every frame in dir.
func ScanBlowout(ctx context.Context, logger *log.Logger, dir string, opts BlowoutOptions) (BlowoutReport, error) {
	var report BlowoutReport
	if opts.Percentage < 0 || opts.Percentage > 100 {
		return report, fmt.Errorf("%w: percentage must be within [0, 100], got %v", domain.ErrInvalidConfig, opts.Percentage)
	}
	logger = orDefault(logger)

	names, err := imagefs.List(dir, []string{".png", ".jpg", ".jpeg"})
	if err != nil {
		return report, err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := domain.FileResult{Name: name}
		img, err := imagefs.Open(filepath.Join(dir, name))
		if err != nil {
			res.Error = err.Error()
			logger.Warn("cannot read file, keeping it", "file", name, "err", err)
			report.Kept = append(report.Kept, name)
			report.Summary.Add(res)
			continue
		}

		if IsBlownOut(img, opts) {
			report.Blown = append(report.Blown, name)
			logger.Debug("blown out", "file", name)
		} else {
			report.Kept = append(report.Kept, name)
		}
		report.Summary.Add(res)
	}

	logger.Info("blowout scan complete", "kept", len(report.Kept), "blown", len(report.Blown), "failed", report.Summary.Failed)
	return report, nil
}

// WriteList writes one name per line.
func WriteList(path string, names []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := imagefs.EnsureDir(dir); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, name := range names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
