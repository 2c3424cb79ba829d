// Package prep holds the small dataset tools that run before training:
// masking, blow-out screening, cropping, channel and format conversion,
// pairing and ffmpeg list generation.
package prep

import (
	"context"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
)

// Quality is the JPEG quality the tools write with.
const Quality = 95

var (
	jpegExtensions = []string{".jpg", ".jpeg"}
	pngExtensions  = []string{".png"}
	cropExtensions = append(append([]string{}, imagefs.FrameExtensions...), ".gif")
)

type fileFunc func(ctx context.Context, name string) (domain.Output, error)

// forEach applies fn to every matching file of in, in sorted order, and
// records one result per file. Failures are logged and skipped.
func forEach(ctx context.Context, logger *log.Logger, in, out string, exts []string, fn fileFunc) (domain.Summary, error) {
	var summary domain.Summary

	names, err := imagefs.List(in, exts)
	if err != nil {
		return summary, err
	}
	if err := imagefs.EnsureDir(out); err != nil {
		return summary, err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res := domain.FileResult{Name: name}
		output, err := fn(ctx, name)
		if err != nil {
			res.Error = err.Error()
			logger.Warn("skipping file", "file", name, "err", err)
		} else {
			res.Outputs = []domain.Output{output}
			logger.Debug("wrote", "file", output.Path)
		}
		summary.Add(res)
	}
	return summary, nil
}

func output(path string, w, h int) domain.Output {
	return domain.Output{Name: filepath.Base(path), Path: path, Width: w, Height: h}
}

func orDefault(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.Default()
	}
	return logger
}
