//go:build !govips || !cgo

package pipeline

// Startup and Shutdown are no-ops without libvips; resizing uses the
// pure-Go Lanczos path.
func Startup() error { return nil }

func Shutdown() {}

func newResizer() Resizer {
	return lanczosResizer{}
}
