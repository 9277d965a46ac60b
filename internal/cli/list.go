package cli

import (
	"context"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

type filterFlags struct {
	statuses string
	from     uint64
	to       uint64
	limit    int
	orderBy  string
	desc     bool
}

func (f *filterFlags) register(cmd *cobra.Command, rangeName string) {
	cmd.Flags().StringVar(&f.statuses, "statuses", "", "comma separated statuses (queued,leased,completed,discarded)")
	cmd.Flags().Uint64Var(&f.from, "from", 0, "lowest "+rangeName+" (inclusive)")
	cmd.Flags().Uint64Var(&f.to, "to", 0, "highest "+rangeName+" (exclusive)")
	cmd.Flags().IntVar(&f.limit, "limit", 50, "maximum rows, 0 for all")
	cmd.Flags().StringVar(&f.orderBy, "order-by", "", "ordering column")
	cmd.Flags().BoolVar(&f.desc, "desc", false, "descending order")
}

func (f *filterFlags) build(cmd *cobra.Command) (domain.QueryFilter, error) {
	statuses, err := domain.ParseStatuses(f.statuses)
	if err != nil {
		return domain.QueryFilter{}, err
	}

	filter := domain.QueryFilter{
		Statuses: statuses,
		Limit:    f.limit,
		OrderBy:  f.orderBy,
		Desc:     f.desc,
	}
	if cmd.Flags().Changed("from") || cmd.Flags().Changed("to") {
		r := domain.Range{Low: f.from, High: math.MaxInt64}
		if cmd.Flags().Changed("to") {
			r.High = f.to
		}
		filter.Range = &r
	}
	return filter, filter.Validate()
}

func NewJobsCmd(e *env) *cobra.Command {
	var (
		flags filterFlags
		round string
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List prover jobs",
		RunE: e.withStore(e.cfg.Database.Migrate, func(ctx context.Context, cmd *cobra.Command) error {
			base, err := flags.build(cmd)
			if err != nil {
				return err
			}
			filter := domain.ProverJobFilter{QueryFilter: base}
			if round != "" {
				r, err := domain.ParseAggregationRound(round)
				if err != nil {
					return err
				}
				filter.Round = &r
			}

			jobs, err := e.prover.QueryJobs(ctx, filter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s | batch=%d | %-17s | %-20s | %-9s | attempts=%d | v%d | %s\n",
					j.ID, j.BatchNumber, j.Round, j.CircuitType, j.Status, j.Attempts, j.ProtocolVersion, humanize.Time(j.CreatedAt))
			}
			return nil
		}),
	}

	flags.register(cmd, "batch number")
	cmd.Flags().StringVar(&round, "round", "", "aggregation round name or number")
	return cmd
}

func NewMempoolCmd(e *env) *cobra.Command {
	var flags flagsWithLive

	cmd := &cobra.Command{
		Use:   "mempool",
		Short: "List mempool entries, or the live view with --live",
		RunE: e.withStore(e.cfg.Database.Migrate, func(ctx context.Context, cmd *cobra.Command) error {
			var (
				txs []*domain.Transaction
				err error
			)
			if flags.live {
				txs, err = e.mempool.ViewTransactions(ctx, domain.MempoolFilter{
					Initiator: flags.initiator,
					OrderBy:   domain.MempoolOrder(flags.orderBy),
					Desc:      flags.desc,
					Limit:     flags.limit,
				})
			} else {
				var filter domain.QueryFilter
				if filter, err = flags.build(cmd); err != nil {
					return err
				}
				txs, err = e.mempool.QueryTransactions(ctx, filter)
			}
			if err != nil {
				return err
			}

			if len(txs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transactions found.")
				return nil
			}
			for _, tx := range txs {
				block := "-"
				if tx.BlockNumber != nil {
					block = fmt.Sprint(*tx.BlockNumber)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s | %s nonce=%d | %-9s | fee=%s | block=%s | %s\n",
					tx.Hash, tx.Origin, tx.Initiator, tx.Nonce, tx.Status, humanize.Comma(int64(tx.Fee.MaxFeePerGas)), block, humanize.Time(tx.CreatedAt))
			}
			return nil
		}),
	}

	flags.register(cmd, "block number")
	cmd.Flags().BoolVar(&flags.live, "live", false, "show the live view used for block assembly")
	cmd.Flags().StringVar(&flags.initiator, "initiator", "", "only transactions from this address (with --live)")
	return cmd
}

type flagsWithLive struct {
	filterFlags
	live      bool
	initiator string
}

func NewStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-status counts for both queues",
		RunE: e.withStore(e.cfg.Database.Migrate, func(ctx context.Context, cmd *cobra.Command) error {
			mempoolStats, err := e.mempool.Stats(ctx)
			if err != nil {
				return err
			}
			proverStats, err := e.prover.Stats(ctx)
			if err != nil {
				return err
			}

			for _, stats := range []*domain.QueueStats{mempoolStats, proverStats} {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", stats.Queue)
				for _, status := range []domain.Status{domain.StatusQueued, domain.StatusLeased, domain.StatusCompleted, domain.StatusDiscarded} {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %d\n", status, stats.Counts[status])
				}
			}
			return nil
		}),
	}
}
