package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/id"
	"github.com/dunamismax/solarprep/internal/queue"
	"github.com/dunamismax/solarprep/internal/store"
)

func (c *CLI) enqueueCommand() *cobra.Command {
	var (
		opts    turbulenceOpts
		webhook string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <source> <destination>",
		Short: "Queue a turbulence run for the workers",
		Long: `Validate a turbulence run and hand it to the worker queue instead of
running it here. Takes the same flags as turbulence.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := c.turbulenceRequest(cmd.Flags(), opts, args[0], args[1])
			req.WebhookURL = webhook
			return c.runEnqueue(cmd.Context(), cmd.OutOrStdout(), req)
		},
	}

	bindTurbulenceFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVar(&webhook, "webhook", "", "URL notified when the run finishes")

	return cmd
}

func (c *CLI) runEnqueue(ctx context.Context, out io.Writer, req domain.RunRequest) error {
	logger := loggerFromContext(ctx)
	if err := req.Validate(); err != nil {
		return err
	}

	runs, closeStore, err := store.Open(ctx, c.cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer closeStore()
	if c.cfg.Database.DSN == "" {
		logger.Warn("POSTGRES_DSN is not set, the run will not be visible to the API")
	}

	now := time.Now().UTC()
	run := domain.Run{
		ID:        id.New(),
		Status:    domain.RunStatusCreated,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := runs.Create(ctx, run); err != nil {
		return err
	}

	client := queue.NewClient(c.cfg.Queue.RedisClientOpt(), c.cfg.Queue.Name)
	defer client.Close()

	info, err := client.EnqueueRun(ctx, queue.RunPayload{RunID: run.ID, Request: req, RequestedAt: now})
	if err != nil {
		if _, ferr := runs.Finish(ctx, run.ID, domain.RunStatusFailed, nil, "enqueue: "+err.Error()); ferr != nil {
			logger.Warn("mark run failed", "err", ferr)
		}
		return fmt.Errorf("enqueue run: %w", err)
	}
	if _, err := runs.UpdateStatus(ctx, run.ID, domain.RunStatusQueued); err != nil {
		logger.Warn("update status failed", "err", err)
	}

	logger.Info("run queued", "run_id", run.ID, "queue", info.Queue)
	fmt.Fprintln(out, run.ID)
	return nil
}
