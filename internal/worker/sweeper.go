package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/metrics"
)

// Sweeper periodically prunes stuck mempool transactions and reclaims
// expired prover leases. Callers manage its lifecycle through the context
// passed to Start.
type Sweeper struct {
	mempoolUC domain.MempoolUsecase
	proverUC  domain.ProverUsecase
	cfg       SweeperConfig
}

// SweeperConfig defines runtime options for the sweeper.
type SweeperConfig struct {
	Interval      time.Duration
	StuckTxMaxAge time.Duration
	LeaseTimeout  time.Duration
	ReclaimBatch  int
}

// SweepResult summarises one sweep
type SweepResult struct {
	Pruned    int64
	Reclaimed []string
}

// NewSweeper builds a new sweeper instance.
func NewSweeper(mempoolUC domain.MempoolUsecase, proverUC domain.ProverUsecase, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}

	return &Sweeper{
		mempoolUC: mempoolUC,
		proverUC:  proverUC,
		cfg:       cfg,
	}
}

// Start launches the sweep loop. It blocks until context cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	logger.Info("Queue sweeper started",
		logger.Duration("interval", s.cfg.Interval),
		logger.Duration("lease_timeout", s.cfg.LeaseTimeout),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue sweeper stopping", logger.ErrorField(ctx.Err()))
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Queue sweep failed", logger.ErrorField(err))
			}
		}
	}
}

// Sweep runs one prune and one reclaim pass concurrently, then refreshes
// the queue gauges.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pruned, err := s.mempoolUC.PruneStuck(gctx, s.cfg.StuckTxMaxAge)
		if err != nil {
			metrics.RecordSystemError("prune_failed", "sweeper")
			return err
		}
		result.Pruned = pruned
		return nil
	})
	g.Go(func() error {
		ids, err := s.proverUC.ReclaimStuck(gctx, s.cfg.LeaseTimeout, s.cfg.ReclaimBatch)
		if err != nil {
			metrics.RecordSystemError("reclaim_failed", "sweeper")
			return err
		}
		result.Reclaimed = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return result, err
	}

	if _, err := s.mempoolUC.Stats(ctx); err != nil {
		logger.Warn("Failed to refresh mempool gauges", logger.ErrorField(err))
	}
	if _, err := s.proverUC.Stats(ctx); err != nil {
		logger.Warn("Failed to refresh prover gauges", logger.ErrorField(err))
	}

	if result.Pruned > 0 || len(result.Reclaimed) > 0 {
		logger.Info("Queue sweep finished",
			logger.Int64("pruned", result.Pruned),
			logger.Strings("reclaimed", result.Reclaimed),
			logger.Duration("duration", time.Since(start)),
		)
	}
	return result, nil
}
