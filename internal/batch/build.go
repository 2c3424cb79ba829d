package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/solarprep/internal/budget"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/pipeline"
	"github.com/dunamismax/solarprep/internal/storage"
)

var ErrUnsupportedSource = errors.New("object storage location requires a storage client")

// Deps are the optional backends a run may need.
type Deps struct {
	Storage   *storage.Client
	Redis     redis.UniversalClient
	BudgetTTL time.Duration
	Metrics   *Metrics
}

// Build validates req and wires a Runner for it. Nothing is read from the
// source here, so configuration errors surface before the first file.
func Build(logger *log.Logger, req domain.RunRequest, deps Deps) (*Runner, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	processor, err := pipeline.NewProcessor(req.Effects, req.Output)
	if err != nil {
		return nil, err
	}

	source, err := sourceFor(req.Source, deps)
	if err != nil {
		return nil, err
	}
	emitter, err := emitterFor(req.Destination, deps)
	if err != nil {
		return nil, err
	}

	var b budget.Budget = budget.New(req.Output.Limit())
	if req.BudgetKey != "" {
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: budget_key requires redis", domain.ErrInvalidConfig)
		}
		b, err = budget.NewRedis(deps.Redis, req.BudgetKey, req.Output.Limit(), deps.BudgetTTL)
		if err != nil {
			return nil, err
		}
	}

	return NewRunner(logger, processor, source, emitter, b,
		WithWorkers(req.Workers),
		WithMetrics(deps.Metrics),
	), nil
}

func sourceFor(loc string, deps Deps) (Source, error) {
	if !domain.IsObjectLocation(loc) {
		return DirSource{Dir: loc}, nil
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, loc)
	}
	return ObjectSource{Storage: deps.Storage, Prefix: domain.ObjectKeyPrefix(loc)}, nil
}

func emitterFor(loc string, deps Deps) (Emitter, error) {
	if !domain.IsObjectLocation(loc) {
		return DirEmitter{Dir: loc}, nil
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, loc)
	}
	return ObjectEmitter{Storage: deps.Storage, Prefix: domain.ObjectKeyPrefix(loc)}, nil
}
