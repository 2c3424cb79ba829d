package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"path/filepath"
	"sort"

	"github.com/dunamismax/solarprep/internal/imagefs"
)

// Source enumerates input frames and decodes them on demand.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (image.Image, error)
}

// DirSource reads frames from a local directory.
type DirSource struct {
	Dir        string
	Extensions []string
}

func (s DirSource) exts() []string {
	if len(s.Extensions) == 0 {
		return imagefs.FrameExtensions
	}
	return s.Extensions
}

func (s DirSource) List(_ context.Context) ([]string, error) {
	return imagefs.List(s.Dir, s.exts())
}

func (s DirSource) Open(ctx context.Context, name string) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return imagefs.Open(filepath.Join(s.Dir, name))
}

type objectReader interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// ObjectSource reads frames stored under a key prefix in the object store.
// Names are the keys relative to Prefix.
type ObjectSource struct {
	Storage    objectReader
	Prefix     string
	Extensions []string
}

func (s ObjectSource) List(ctx context.Context) ([]string, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	keys, err := s.Storage.ListObjects(ctx, s.Prefix)
	if err != nil {
		return nil, err
	}

	exts := s.Extensions
	if len(exts) == 0 {
		exts = imagefs.FrameExtensions
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := path.Base(key)
		if path.Join(s.Prefix, name) != path.Clean(key) || !imagefs.HasExtension(name, exts) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s ObjectSource) Open(ctx context.Context, name string) (image.Image, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	data, err := s.Storage.ReadObject(ctx, path.Join(s.Prefix, name))
	if err != nil {
		return nil, err
	}
	img, err := imagefs.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return img, nil
}
