// Package store persists turbulence runs and their summaries.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/solarprep/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

type RunStore interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Run, error)
	// Finish records the terminal status of a run along with its summary
	// and, for failed runs, the error message.
	Finish(ctx context.Context, id, status string, summary *domain.Summary, errMsg string) (domain.Run, error)
}

// Open returns a Postgres store for a non-empty dsn and an in-memory store
// otherwise. closeFn releases the store.
func Open(ctx context.Context, dsn string) (s RunStore, closeFn func() error, err error) {
	if dsn == "" {
		return NewMemoryRunStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresRunStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
