package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfanzaky/zkqueue/config"
	"github.com/alfanzaky/zkqueue/internal/bootstrap"
	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/internal/repository/sqldb"
)

// env is opened lazily so commands that never touch storage (token) work
// without a reachable database.
type env struct {
	cfg      *config.Config
	store    *sqldb.Store
	notifier *bootstrap.Notifier
	mempool  domain.MempoolUsecase
	prover   domain.ProverUsecase
}

func (e *env) open(ctx context.Context, migrate bool) error {
	if e.store != nil {
		return nil
	}

	store, err := bootstrap.OpenStore(ctx, e.cfg.Database, e.cfg.Queue.PageSize, migrate)
	if err != nil {
		return err
	}
	notifier, err := bootstrap.NewNotifier(ctx, *e.cfg)
	if err != nil {
		_ = store.Close()
		return err
	}

	e.store = store
	e.notifier = notifier
	e.mempool, e.prover = bootstrap.Usecases(store, notifier, e.cfg.Queue)
	return nil
}

func (e *env) close() {
	if e.notifier != nil {
		_ = e.notifier.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	e.store, e.notifier = nil, nil
}

// withStore opens storage for the duration of one command
func (e *env) withStore(migrate bool, fn func(ctx context.Context, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := e.open(ctx, migrate); err != nil {
			return err
		}
		defer e.close()
		return fn(ctx, cmd)
	}
}

// NewRootCmd builds the queuectl command tree
func NewRootCmd(cfg *config.Config) *cobra.Command {
	e := &env{cfg: cfg}

	cmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Maintenance tool for the mempool and prover job queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		NewMigrateCmd(e),
		NewPruneStuckCmd(e),
		NewReclaimStuckCmd(e),
		NewSweepCmd(e),
		NewJobsCmd(e),
		NewMempoolCmd(e),
		NewStatsCmd(e),
		NewTokenCmd(e),
	)
	return cmd
}

// Execute runs the root command and reports the error on stderr
func Execute(cfg *config.Config) error {
	root := NewRootCmd(cfg)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}
