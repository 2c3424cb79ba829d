// Package imagefs lists, decodes and encodes the image files the dataset
// tools work on.
package imagefs

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// FrameExtensions are the inputs the turbulence and pairing tools accept.
var FrameExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// HasExtension reports whether name ends in one of exts, ignoring case.
func HasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// List returns the regular files in dir whose extension is in exts, sorted
// by name.
func List(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !HasExtension(e.Name(), exts) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stem strips the extension from a file name.
func Stem(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// FormatFor maps a file name to its encoder.
func FormatFor(name string) (imaging.Format, error) {
	f, err := imaging.FormatFromFilename(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
	return f, nil
}

// Encode writes img in the format implied by name. quality only affects
// JPEG output.
func Encode(w io.Writer, img image.Image, name string, quality int) error {
	format, err := FormatFor(name)
	if err != nil {
		return err
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(clampQuality(quality))); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// Save writes img to path in the format implied by its extension.
func Save(path string, img image.Image, quality int) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(clampQuality(quality))); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// EnsureDir creates dir and any parents if they are missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return nil
}

func clampQuality(q int) int {
	if q <= 0 || q > 100 {
		return 95
	}
	return q
}
