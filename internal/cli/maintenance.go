package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfanzaky/zkqueue/internal/worker"
)

func NewMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create queue tables and indexes",
		RunE: e.withStore(true, func(ctx context.Context, cmd *cobra.Command) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", e.cfg.Database.Driver)
			return nil
		}),
	}
}

func NewPruneStuckCmd(e *env) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "prune-stuck",
		Short: "Delete live L2 transactions older than --max-age",
		RunE: e.withStore(e.cfg.Database.Migrate, func(ctx context.Context, cmd *cobra.Command) error {
			removed, err := e.mempool.PruneStuck(ctx, maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stuck transactions\n", removed)
			return nil
		}),
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "age after which a live transaction is stuck (default from QUEUE_STUCK_TX_MAX_AGE)")
	return cmd
}

func NewReclaimStuckCmd(e *env) *cobra.Command {
	var (
		leaseTimeout time.Duration
		maxCount     int
	)

	cmd := &cobra.Command{
		Use:   "reclaim-stuck",
		Short: "Return expired prover job leases to the queue",
		RunE: e.withStore(e.cfg.Database.Migrate, func(ctx context.Context, cmd *cobra.Command) error {
			if leaseTimeout < 0 {
				return fmt.Errorf("invalid lease timeout: %s", leaseTimeout)
			}
			ids, err := e.prover.ReclaimStuck(ctx, leaseTimeout, maxCount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d jobs\n", len(ids))
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), " ", id)
			}
			return nil
		}),
	}

	cmd.Flags().DurationVar(&leaseTimeout, "lease-timeout", e.cfg.Queue.LeaseTimeout, "how long a lease may be held")
	cmd.Flags().IntVar(&maxCount, "max-count", e.cfg.Queue.ReclaimBatch, "maximum jobs to reclaim")
	return cmd
}

func NewSweepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one prune and reclaim pass, as the API sweeper does",
		RunE: e.withStore(e.cfg.Database.Migrate, func(ctx context.Context, cmd *cobra.Command) error {
			sweeper := worker.NewSweeper(e.mempool, e.prover, worker.SweeperConfig{
				StuckTxMaxAge: e.cfg.Queue.StuckTxMaxAge,
				LeaseTimeout:  e.cfg.Queue.LeaseTimeout,
				ReclaimBatch:  e.cfg.Queue.ReclaimBatch,
			})
			result, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d transactions, reclaimed %d jobs\n", result.Pruned, len(result.Reclaimed))
			return nil
		}),
	}
}
