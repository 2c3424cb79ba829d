package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dunamismax/solarprep/internal/batch"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/pipeline"
	"github.com/dunamismax/solarprep/internal/storage"
	"github.com/dunamismax/solarprep/internal/telemetry"
)

// turbulenceOpts holds the command-line flags of the turbulence command.
// Flags left unset keep the value from the environment or config file.
type turbulenceOpts struct {
	effects     domain.EffectConfig
	output      domain.OutputOptions
	maxTiles    int
	workers     int
	budgetKey   string
	metricsFile string
	summaryFile string
}

func (c *CLI) turbulenceCommand() *cobra.Command {
	var opts turbulenceOpts

	cmd := &cobra.Command{
		Use:   "turbulence <source> <destination>",
		Short: "Degrade frames with contrast loss, blur and warp, optionally tiling them",
		Long: `Process every frame in <source> in sorted order and write the result to
<destination>. Either location may be a local directory or s3://prefix in the
configured bucket. Processing stops once --max-tiles outputs are written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := c.turbulenceRequest(cmd.Flags(), opts, args[0], args[1])
			return c.runTurbulence(cmd.Context(), req, opts)
		},
	}

	bindTurbulenceFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	cmd.Flags().StringVar(&opts.summaryFile, "summary", "", "write the per-file summary as JSON here")

	return cmd
}

// bindTurbulenceFlags registers the run flags shared by turbulence and
// enqueue.
func bindTurbulenceFlags(f *pflag.FlagSet, opts *turbulenceOpts) {
	def := domain.DefaultEffectConfig()
	f.IntVar(&opts.effects.KernelSize, "kernel-size", def.KernelSize, "blur kernel width (odd)")
	f.Float64Var(&opts.effects.Amplitude, "amplitude", def.Amplitude, "warp displacement in pixels")
	f.Float64Var(&opts.effects.Frequency, "frequency", def.Frequency, "warp cycles across the frame")
	f.Float64Var(&opts.effects.ContrastFactor, "contrast-factor", def.ContrastFactor, "contrast kept, 0 flattens to mid gray, 1 keeps it")
	f.BoolVar(&opts.effects.Contrast, "enable-contrast", false, "reduce contrast")
	f.BoolVar(&opts.effects.Blur, "enable-blur", false, "apply the box blur")
	f.BoolVar(&opts.effects.Turbulence, "enable-turbulence", false, "apply the sinusoidal warp")
	f.BoolVar(&opts.output.Tile, "tile", false, "resize up to a multiple of --tile-size and cut tiles")
	f.IntVar(&opts.output.TileSize, "tile-size", domain.DefaultTileSize, "tile edge in pixels")
	f.BoolVar(&opts.output.Colorize, "colorize", false, "write three identical channels")
	f.IntVar(&opts.maxTiles, "max-tiles", 0, "stop after this many outputs (unbounded when not given)")
	f.IntVar(&opts.workers, "workers", 1, "files processed ahead of emission")
	f.StringVar(&opts.budgetKey, "budget-key", "", "share --max-tiles with other runs through Redis under this key")
}

// turbulenceRequest starts from the configured defaults and applies only the
// flags given on the command line.
func (c *CLI) turbulenceRequest(flags *pflag.FlagSet, opts turbulenceOpts, source, destination string) domain.RunRequest {
	t := c.cfg.Turbulence
	req := domain.RunRequest{
		Source:      source,
		Destination: destination,
		Effects:     t.Effects,
		Output:      t.Output,
		Workers:     t.Workers,
		BudgetKey:   opts.budgetKey,
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("kernel-size", func() { req.Effects.KernelSize = opts.effects.KernelSize })
	set("amplitude", func() { req.Effects.Amplitude = opts.effects.Amplitude })
	set("frequency", func() { req.Effects.Frequency = opts.effects.Frequency })
	set("contrast-factor", func() { req.Effects.ContrastFactor = opts.effects.ContrastFactor })
	set("enable-contrast", func() { req.Effects.Contrast = opts.effects.Contrast })
	set("enable-blur", func() { req.Effects.Blur = opts.effects.Blur })
	set("enable-turbulence", func() { req.Effects.Turbulence = opts.effects.Turbulence })
	set("tile", func() { req.Output.Tile = opts.output.Tile })
	set("tile-size", func() { req.Output.TileSize = opts.output.TileSize })
	set("colorize", func() { req.Output.Colorize = opts.output.Colorize })
	set("max-tiles", func() { req.Output.MaxOutputs = domain.Cap(opts.maxTiles) })
	set("workers", func() { req.Workers = opts.workers })
	return req
}

func (c *CLI) runTurbulence(ctx context.Context, req domain.RunRequest, opts turbulenceOpts) error {
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	// Reject a bad configuration before touching any backend.
	if err := req.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, c.cfg.Telemetry.Trace(appName), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	deps, cleanup, err := c.runDeps(ctx, req, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	runner, err := batch.Build(logger, req, deps)
	if err != nil {
		return err
	}

	summary, runErr := runner.Run(ctx)

	if err := deps.Metrics.WriteTextfile(opts.metricsFile); err != nil {
		logger.Warn("metrics textfile not written", "path", opts.metricsFile, "err", err)
	}
	if opts.summaryFile != "" {
		if err := writeSummary(opts.summaryFile, summary); err != nil {
			logger.Warn("summary not written", "path", opts.summaryFile, "err", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	prog.report("turbulence", summary)
	if summary.Exhausted {
		logger.Infof("Output limit of %d reached", req.Output.Limit())
	}
	return nil
}

// runDeps opens only the backends req actually needs.
func (c *CLI) runDeps(ctx context.Context, req domain.RunRequest, opts turbulenceOpts) (batch.Deps, func(), error) {
	deps := batch.Deps{BudgetTTL: c.cfg.Budget.TTL.Duration}
	var closers []func() error
	cleanup := func() {
		for _, fn := range closers {
			_ = fn()
		}
	}

	if opts.metricsFile != "" {
		deps.Metrics = batch.NewStandaloneMetrics()
	}

	if domain.IsObjectLocation(req.Source) || domain.IsObjectLocation(req.Destination) {
		client, err := storage.NewClient(c.cfg.Storage.Client())
		if err != nil {
			return deps, cleanup, err
		}
		if domain.IsObjectLocation(req.Destination) {
			if err := client.EnsureBucket(ctx); err != nil {
				return deps, cleanup, err
			}
		}
		deps.Storage = client
	}

	if req.BudgetKey != "" {
		rdb := c.cfg.Queue.RedisClient()
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cleanup()
			return deps, func() {}, fmt.Errorf("connect redis for shared budget: %w", err)
		}
		deps.Redis = rdb
	}

	return deps, cleanup, nil
}

func writeSummary(path string, s domain.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
