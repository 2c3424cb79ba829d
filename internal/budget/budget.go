// Package budget caps how many output units a run may emit.
package budget

import (
	"context"
	"sync/atomic"
)

// Budget hands out output slots. Take reports false once the cap is reached;
// callers stop emitting at that point.
type Budget interface {
	Take(ctx context.Context) (bool, error)
	// Taken is the number of slots this budget handed to the caller.
	Taken() int64
	// Remaining is the number of slots left for every holder of the
	// budget, or -1 when unbounded.
	Remaining(ctx context.Context) (int64, error)
}

// Local is an in-process counter. A negative max means unbounded; zero
// hands out nothing.
type Local struct {
	max   int64
	taken atomic.Int64
}

func New(max int) *Local {
	if max < 0 {
		max = -1
	}
	return &Local{max: int64(max)}
}

func (b *Local) Take(context.Context) (bool, error) {
	for {
		cur := b.taken.Load()
		if b.max >= 0 && cur >= b.max {
			return false, nil
		}
		if b.taken.CompareAndSwap(cur, cur+1) {
			return true, nil
		}
	}
}

func (b *Local) Taken() int64 {
	return b.taken.Load()
}

func (b *Local) Remaining(context.Context) (int64, error) {
	if b.max < 0 {
		return -1, nil
	}
	return b.max - b.taken.Load(), nil
}
