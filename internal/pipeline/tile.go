package pipeline

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Tiler resizes a frame up to the next multiple of Size and cuts it into
// Size x Size tiles.
type Tiler struct {
	Size    int
	Resizer Resizer
}

func NewTiler(size int) Tiler {
	return Tiler{Size: size, Resizer: newResizer()}
}

// PaddedSize rounds width and height up to the next multiple of size.
func PaddedSize(width, height, size int) (int, int) {
	return ((width-1)/size + 1) * size, ((height-1)/size + 1) * size
}

// Tile returns the tiles of src in column-major order: the outer loop walks
// left to right, the inner loop top to bottom. Tile i therefore sits at
// column i/rows and row i%rows.
func (t Tiler) Tile(src *image.Gray) ([]*image.Gray, error) {
	if t.Size <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", t.Size)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("cannot tile an empty image")
	}

	width, height := PaddedSize(b.Dx(), b.Dy(), t.Size)
	resized, err := t.Resizer.Resize(src, width, height)
	if err != nil {
		return nil, fmt.Errorf("resize to %dx%d: %w", width, height, err)
	}
	gray := toGray(resized)
	if gb := gray.Bounds(); gb.Dx() != width || gb.Dy() != height {
		return nil, fmt.Errorf("resize produced %dx%d, want %dx%d", gb.Dx(), gb.Dy(), width, height)
	}

	tiles := make([]*image.Gray, 0, (width/t.Size)*(height/t.Size))
	for x := 0; x < width; x += t.Size {
		for y := 0; y < height; y += t.Size {
			tile := image.NewGray(image.Rect(0, 0, t.Size, t.Size))
			draw.Draw(tile, tile.Bounds(), gray, image.Pt(x, y), draw.Src)
			tiles = append(tiles, tile)
		}
	}
	return tiles, nil
}
