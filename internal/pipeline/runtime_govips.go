//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips cannot be started again once shut down, so the runtime only moves
// forward through these states.
const (
	vipsIdle = iota
	vipsRunning
	vipsStopped
)

var (
	vipsMu    sync.Mutex
	vipsState = vipsIdle
	vipsUsers int
)

var errVipsStopped = errors.New("libvips was already shut down in this process")

// Startup starts libvips on first use. Calls nest: each must be paired with
// Shutdown and the library stops with the last one.
func Startup() error {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	switch vipsState {
	case vipsStopped:
		return errVipsStopped
	case vipsIdle:
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		// Frames are resized once each, so the operation cache only costs
		// memory. Parallelism comes from the batch workers.
		vips.Startup(&vips.Config{
			ConcurrencyLevel: 1,
			MaxCacheFiles:    0,
			MaxCacheMem:      0,
			MaxCacheSize:     0,
		})
		vipsState = vipsRunning
	}
	vipsUsers++
	return nil
}

func Shutdown() {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	if vipsState != vipsRunning {
		return
	}
	vipsUsers--
	if vipsUsers > 0 {
		return
	}
	vips.Shutdown()
	vipsState = vipsStopped
}

func newResizer() Resizer {
	return govipsResizer{}
}
