package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
)

// Emitter persists output units. Prepare runs once before the first unit.
type Emitter interface {
	Prepare(ctx context.Context) error
	Emit(ctx context.Context, name string, img image.Image, quality int) (domain.Output, error)
}

// DirEmitter writes units into a local directory.
type DirEmitter struct {
	Dir string
}

func (e DirEmitter) Prepare(_ context.Context) error {
	if strings.TrimSpace(e.Dir) == "" {
		return errors.New("output directory is required")
	}
	return imagefs.EnsureDir(e.Dir)
}

func (e DirEmitter) Emit(ctx context.Context, name string, img image.Image, quality int) (domain.Output, error) {
	select {
	case <-ctx.Done():
		return domain.Output{}, ctx.Err()
	default:
	}

	fullPath := filepath.Join(e.Dir, name)
	if err := imagefs.Save(fullPath, img, quality); err != nil {
		return domain.Output{}, err
	}

	size := 0
	if info, err := os.Stat(fullPath); err == nil {
		size = int(info.Size())
	}

	b := img.Bounds()
	return domain.Output{
		Name:   name,
		Path:   fullPath,
		Bytes:  size,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectEmitter uploads units under a key prefix in the object store.
type ObjectEmitter struct {
	Storage objectWriter
	Prefix  string
}

func (e ObjectEmitter) Prepare(_ context.Context) error {
	if e.Storage == nil {
		return errors.New("storage client is required")
	}
	return nil
}

func (e ObjectEmitter) Emit(ctx context.Context, name string, img image.Image, quality int) (domain.Output, error) {
	var buf bytes.Buffer
	if err := imagefs.Encode(&buf, img, name, quality); err != nil {
		return domain.Output{}, err
	}

	objectKey := path.Join(e.Prefix, name)
	if err := e.Storage.WriteObject(ctx, objectKey, buf.Bytes(), contentTypeFor(name)); err != nil {
		return domain.Output{}, err
	}

	b := img.Bounds()
	return domain.Output{
		Name:   name,
		Path:   objectKey,
		Bytes:  buf.Len(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
