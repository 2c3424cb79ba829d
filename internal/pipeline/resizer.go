package pipeline

import (
	"image"
)

// Resizer scales an image to exact dimensions with a high quality filter.
type Resizer interface {
	Resize(src image.Image, width, height int) (image.Image, error)
}
