package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/metrics"
)

// ProverConfig holds prover queue policy knobs
type ProverConfig struct {
	AllowedProtocolVersions []int32
	ReclaimBatch            int
	MaxLeaseWait            time.Duration
}

// DefaultProverConfig returns default prover queue configuration
func DefaultProverConfig() ProverConfig {
	return ProverConfig{
		AllowedProtocolVersions: []int32{1},
		ReclaimBatch:            100,
		MaxLeaseWait:            30 * time.Second,
	}
}

type proverUsecase struct {
	store    domain.Store
	notifier domain.Notifier
	cfg      ProverConfig
}

// NewProverUsecase creates a new prover job use case. A nil notifier falls
// back to polling.
func NewProverUsecase(store domain.Store, notifier domain.Notifier, cfg ProverConfig) domain.ProverUsecase {
	defaults := DefaultProverConfig()
	if len(cfg.AllowedProtocolVersions) == 0 {
		cfg.AllowedProtocolVersions = defaults.AllowedProtocolVersions
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = defaults.ReclaimBatch
	}
	if cfg.MaxLeaseWait <= 0 {
		cfg.MaxLeaseWait = defaults.MaxLeaseWait
	}
	return &proverUsecase{
		store:    store,
		notifier: notifierOrPolling(notifier),
		cfg:      cfg,
	}
}

// EnqueueJobs fans out one job per circuit; already existing tuples are skipped
func (uc *proverUsecase) EnqueueJobs(ctx context.Context, req domain.EnqueueJobsRequest) (int64, error) {
	if !req.Round.IsValid() {
		return 0, fmt.Errorf("%w: unknown aggregation round %d", domain.ErrInvalidArgument, req.Round)
	}
	if len(req.Circuits) == 0 {
		return 0, fmt.Errorf("%w: at least one circuit is required", domain.ErrInvalidArgument)
	}

	inserted, err := uc.store.ProverJobs().Enqueue(ctx, req.BatchNumber, req.Circuits, req.Round, req.ProtocolVersion)
	if err != nil {
		logger.Ctx(ctx).Error("Failed to enqueue prover jobs",
			logger.Uint64("batch_number", req.BatchNumber),
			logger.String("round", req.Round.String()),
			logger.ErrorField(err),
		)
		return 0, err
	}

	if inserted > 0 {
		metrics.RecordJobsEnqueued(req.Round.String(), inserted)
		uc.notify(ctx)
	}
	return inserted, nil
}

// LeaseJob leases the next eligible job. With a positive wait it blocks on
// queue signals until a job is leased or the wait elapses; nil means no job.
func (uc *proverUsecase) LeaseJob(ctx context.Context, protocolVersions []int32, wait time.Duration) (*domain.ProverJob, error) {
	if wait < 0 {
		return nil, fmt.Errorf("%w: negative wait", domain.ErrInvalidArgument)
	}
	if wait > uc.cfg.MaxLeaseWait {
		wait = uc.cfg.MaxLeaseWait
	}
	if len(protocolVersions) == 0 {
		protocolVersions = uc.cfg.AllowedProtocolVersions
	}

	repo := uc.store.ProverJobs()
	deadline := time.Now().Add(wait)

	for {
		job, err := repo.LeaseNext(ctx, protocolVersions)
		if err != nil {
			metrics.RecordLease("error")
			return nil, err
		}
		if job != nil {
			metrics.RecordLease("leased")
			logger.Ctx(ctx).Info("Prover job leased",
				logger.String("job_id", job.ID),
				logger.Uint64("batch_number", job.BatchNumber),
				logger.String("round", job.Round.String()),
				logger.String("circuit_type", job.CircuitType),
				logger.Int("attempts", job.Attempts),
			)
			return job, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		signalled, err := uc.notifier.Wait(ctx, domain.QueueProverJobs, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Ctx(ctx).Warn("Queue signal unavailable, returning empty lease",
				logger.ErrorField(err),
			)
			break
		}
		if !signalled {
			break
		}
	}

	metrics.RecordLease("empty")
	return nil, nil
}

// CompleteJob records the worker outcome for a leased job
func (uc *proverUsecase) CompleteJob(ctx context.Context, id string, outcome domain.JobOutcome) error {
	if id == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrInvalidArgument)
	}
	if !outcome.Success && outcome.Error == "" {
		outcome.Error = "unspecified failure"
	}

	repo := uc.store.ProverJobs()
	if err := repo.Complete(ctx, id, outcome); err != nil {
		return err
	}

	round := "unknown"
	if job, err := repo.GetByID(ctx, id); err == nil {
		round = job.Round.String()
	}

	if outcome.Success {
		metrics.RecordCompletion("success", round, outcome.TimeTaken.Seconds())
		logger.Ctx(ctx).Info("Prover job completed",
			logger.String("job_id", id),
			logger.Duration("time_taken", outcome.TimeTaken),
		)
		return nil
	}

	metrics.RecordCompletion("failure", round, outcome.TimeTaken.Seconds())
	logger.Ctx(ctx).Warn("Prover job failed, returned to queue",
		logger.String("job_id", id),
		logger.String("error", outcome.Error),
	)
	uc.notify(ctx)
	return nil
}

// ReclaimStuck requeues expired leases. A non-positive maxCount uses the
// configured batch; a zero leaseTimeout reclaims every lease.
func (uc *proverUsecase) ReclaimStuck(ctx context.Context, leaseTimeout time.Duration, maxCount int) ([]string, error) {
	if maxCount <= 0 {
		maxCount = uc.cfg.ReclaimBatch
	}

	ids, err := uc.store.ProverJobs().ReclaimStuck(ctx, leaseTimeout, maxCount)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		metrics.RecordReclaimed(len(ids))
		uc.notify(ctx)
	}
	return ids, nil
}

// QueryJobs is the reporting view over prover jobs
func (uc *proverUsecase) QueryJobs(ctx context.Context, filter domain.ProverJobFilter) ([]*domain.ProverJob, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return uc.store.ProverJobs().Query(ctx, filter)
}

// GetJob retrieves a prover job by ID
func (uc *proverUsecase) GetJob(ctx context.Context, id string) (*domain.ProverJob, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrInvalidArgument)
	}
	return uc.store.ProverJobs().GetByID(ctx, id)
}

// Stats returns prover job counts and refreshes the queue gauges
func (uc *proverUsecase) Stats(ctx context.Context) (*domain.QueueStats, error) {
	counts, err := uc.store.ProverJobs().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := queueStats(domain.QueueProverJobs, counts)
	for status, n := range stats.Counts {
		metrics.SetQueueEntries(domain.QueueProverJobs, string(status), float64(n))
	}
	return stats, nil
}

func (uc *proverUsecase) notify(ctx context.Context) {
	if err := uc.notifier.Notify(ctx, domain.QueueProverJobs); err != nil {
		metrics.RecordSystemError("notify_failed", "usecase")
		logger.Ctx(ctx).Warn("Failed to signal prover queue",
			logger.ErrorField(err),
		)
	}
}
