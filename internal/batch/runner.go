// Package batch walks a folder of frames through the turbulence pipeline and
// writes the resulting units under a shared output budget.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dunamismax/solarprep/internal/budget"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/imagefs"
	"github.com/dunamismax/solarprep/internal/pipeline"
)

const (
	// TileExtension is the format every tile is written in.
	TileExtension = "jpg"
	// OutputQuality is the JPEG quality for frames and tiles.
	OutputQuality = 100
)

// Processor is the per-frame stage chain.
type Processor interface {
	Process(ctx context.Context, src image.Image) ([]image.Image, error)
	Tiled() bool
}

var _ Processor = (*pipeline.Processor)(nil)

type Runner struct {
	logger    *log.Logger
	processor Processor
	source    Source
	emitter   Emitter
	budget    budget.Budget
	workers   int
	metrics   *Metrics
	tracer    trace.Tracer
}

type Option func(*Runner)

// WithWorkers decodes and processes up to n files ahead of emission. Output
// order and budget accounting stay sequential.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

func NewRunner(logger *log.Logger, processor Processor, source Source, emitter Emitter, b budget.Budget, opts ...Option) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	if b == nil {
		b = budget.New(-1)
	}
	r := &Runner{
		logger:    logger,
		processor: processor,
		source:    source,
		emitter:   emitter,
		budget:    b,
		workers:   1,
		tracer:    otel.Tracer("solarprep/batch"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UnitName is the output file name for unit index of the input name.
func UnitName(name string, index int, tiled bool) string {
	if !tiled {
		return name
	}
	return fmt.Sprintf("%s_tile%d.%s", imagefs.Stem(name), index, TileExtension)
}

// Run processes every listed file in sorted order. A listing or preparation
// failure aborts the run; per-file failures are recorded in the summary and
// the run moves on. Exhausting the budget ends the run without error.
func (r *Runner) Run(ctx context.Context) (domain.Summary, error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "batch.run")
	defer span.End()

	var summary domain.Summary

	names, err := r.source.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return summary, fmt.Errorf("list inputs: %w", err)
	}
	if err := r.emitter.Prepare(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		return summary, fmt.Errorf("prepare output: %w", err)
	}

	span.SetAttributes(
		attribute.Int("run.inputs", len(names)),
		attribute.Int("run.workers", max(1, r.workers)),
		attribute.Bool("run.tiled", r.processor.Tiled()),
	)
	r.logger.Info("starting run", "inputs", len(names), "workers", max(1, r.workers), "tiled", r.processor.Tiled())

	if r.workers > 1 {
		err = r.runParallel(ctx, names, &summary)
	} else {
		err = r.runSequential(ctx, names, &summary)
	}

	r.metrics.observeRun(time.Since(started).Seconds(), summary.Exhausted)
	span.SetAttributes(
		attribute.Int("run.produced", summary.Produced),
		attribute.Int("run.failed", summary.Failed),
		attribute.Bool("run.exhausted", summary.Exhausted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run aborted")
		return summary, err
	}

	if summary.Exhausted {
		r.logger.Info("output limit reached, stopping", "produced", summary.Produced)
	} else {
		r.logger.Info("run complete", "produced", summary.Produced, "failed", summary.Failed,
			"elapsed", time.Since(started).Round(time.Millisecond))
	}
	span.SetStatus(codes.Ok, "processed")
	return summary, nil
}

type processed struct {
	name  string
	units []image.Image
	err   error
}

func (r *Runner) runSequential(ctx context.Context, names []string, summary *domain.Summary) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		spent, err := r.spent(ctx)
		if err != nil {
			return err
		}
		if spent {
			summary.Exhausted = true
			return nil
		}

		res, stop, err := r.emit(ctx, r.process(ctx, name))
		if err != nil {
			return err
		}
		summary.Add(res)
		if stop {
			summary.Exhausted = true
			return nil
		}
	}
	return nil
}

// runParallel processes files on a bounded pool while emitting strictly in
// listing order. Files past the point where the budget runs out may already
// have been decoded; they are discarded unwritten.
func (r *Runner) runParallel(ctx context.Context, names []string, summary *domain.Summary) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan processed, len(names))
	for i := range results {
		results[i] = make(chan processed, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i, name := range names {
			if gctx.Err() != nil {
				return
			}
			g.Go(func() error {
				results[i] <- r.process(gctx, name)
				return nil
			})
		}
	}()

	defer func() {
		cancel()
		<-producerDone
		_ = g.Wait()
	}()

	for i := range names {
		spent, err := r.spent(ctx)
		if err != nil {
			return err
		}
		if spent {
			summary.Exhausted = true
			return nil
		}

		var p processed
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p = <-results[i]:
		}

		res, stop, err := r.emit(ctx, p)
		if err != nil {
			return err
		}
		summary.Add(res)
		if stop {
			summary.Exhausted = true
			return nil
		}
	}
	return nil
}

func (r *Runner) process(ctx context.Context, name string) processed {
	ctx, span := r.tracer.Start(ctx, "batch.process_file", trace.WithAttributes(attribute.String("file.name", name)))
	defer span.End()

	img, err := r.source.Open(ctx, name)
	if err != nil {
		span.RecordError(err)
		return processed{name: name, err: fmt.Errorf("open: %w", err)}
	}

	units, err := r.processor.Process(ctx, img)
	if err != nil {
		span.RecordError(err)
		return processed{name: name, err: fmt.Errorf("process: %w", err)}
	}
	span.SetAttributes(attribute.Int("file.units", len(units)))
	return processed{name: name, units: units}
}

// emit writes the units of one file, taking a budget slot before each. stop
// reports that the budget ran out part way. A non-nil error means the budget
// itself failed and the run cannot continue.
func (r *Runner) emit(ctx context.Context, p processed) (domain.FileResult, bool, error) {
	res := domain.FileResult{Name: p.name}
	if p.err != nil {
		if errors.Is(p.err, context.Canceled) && ctx.Err() != nil {
			return res, false, ctx.Err()
		}
		res.Error = p.err.Error()
		r.logger.Warn("skipping file", "file", p.name, "err", p.err)
		r.metrics.observeFile(false, 0)
		return res, false, nil
	}

	tiled := r.processor.Tiled()
	for idx, unit := range p.units {
		ok, err := r.budget.Take(ctx)
		if err != nil {
			return res, false, fmt.Errorf("output budget: %w", err)
		}
		if !ok {
			r.metrics.observeFile(true, len(res.Outputs))
			return res, true, nil
		}

		out, err := r.emitter.Emit(ctx, UnitName(p.name, idx, tiled), unit, OutputQuality)
		if err != nil {
			res.Error = fmt.Sprintf("emit unit %d: %v", idx, err)
			r.logger.Warn("skipping rest of file", "file", p.name, "unit", idx, "err", err)
			r.metrics.observeFile(false, len(res.Outputs))
			return res, false, nil
		}
		res.Outputs = append(res.Outputs, out)
	}

	r.logger.Debug("processed file", "file", p.name, "units", len(res.Outputs))
	r.metrics.observeFile(true, len(res.Outputs))
	return res, false, nil
}

// spent reports a budget with no slot left for any holder, so the next file
// need not be opened at all.
func (r *Runner) spent(ctx context.Context) (bool, error) {
	left, err := r.budget.Remaining(ctx)
	if err != nil {
		return false, fmt.Errorf("output budget: %w", err)
	}
	return left == 0, nil
}
