package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

func basicJobs(batch uint64, version int32, types ...string) domain.EnqueueJobsRequest {
	circuits := make([]domain.Circuit, 0, len(types))
	for _, typ := range types {
		circuits = append(circuits, domain.Circuit{Type: typ})
	}
	return domain.EnqueueJobsRequest{
		BatchNumber:     batch,
		Circuits:        circuits,
		Round:           domain.RoundBasicCircuits,
		ProtocolVersion: version,
	}
}

func TestProverUsecase_EnqueueAndLease(t *testing.T) {
	ctx := context.Background()
	notifier := newFakeNotifier()
	uc := NewProverUsecase(newTestStore(t), notifier, DefaultProverConfig())

	inserted, err := uc.EnqueueJobs(ctx, basicJobs(1, 1, "a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), inserted)

	inserted, err = uc.EnqueueJobs(ctx, basicJobs(1, 1, "a", "b"))
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, 1, notifier.count(domain.QueueProverJobs))

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		job, err := uc.LeaseJob(ctx, nil, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
		seen[job.ID] = true
	}
	assert.Len(t, seen, 4)

	job, err := uc.LeaseJob(ctx, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, job)

	ids, err := uc.ReclaimStuck(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	for i := 0; i < 4; i++ {
		job, err := uc.LeaseJob(ctx, []int32{1}, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
	}
}

func TestProverUsecase_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	uc := NewProverUsecase(newTestStore(t), newFakeNotifier(), DefaultProverConfig())

	_, err := uc.EnqueueJobs(ctx, basicJobs(1, 1))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	req := basicJobs(1, 1, "a")
	req.Round = domain.AggregationRound(-1)
	_, err = uc.EnqueueJobs(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = uc.LeaseJob(ctx, nil, -time.Second)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestProverUsecase_LeaseWaitsForSignal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	notifier := newFakeNotifier()
	uc := NewProverUsecase(store, notifier, DefaultProverConfig())

	notifier.onWait = func() bool {
		_, err := store.ProverJobs().Enqueue(ctx, 3, []domain.Circuit{{Type: "late"}}, domain.RoundBasicCircuits, 1)
		require.NoError(t, err)
		return true
	}

	job, err := uc.LeaseJob(ctx, nil, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "late", job.CircuitType)
	assert.Equal(t, 1, notifier.waits)
}

func TestProverUsecase_LeaseWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	notifier := newFakeNotifier()
	uc := NewProverUsecase(newTestStore(t), notifier, DefaultProverConfig())

	job, err := uc.LeaseJob(ctx, nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, 1, notifier.waits)

	notifier.err = errRedisDown
	job, err = uc.LeaseJob(ctx, nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestProverUsecase_LeaseWithPollingNotifier(t *testing.T) {
	ctx := context.Background()
	uc := NewProverUsecase(newTestStore(t), NewPollingNotifier(10*time.Millisecond), DefaultProverConfig())

	start := time.Now()
	job, err := uc.LeaseJob(ctx, nil, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestProverUsecase_CompleteJob(t *testing.T) {
	ctx := context.Background()
	notifier := newFakeNotifier()
	uc := NewProverUsecase(newTestStore(t), notifier, DefaultProverConfig())

	_, err := uc.EnqueueJobs(ctx, basicJobs(1, 1, "a"))
	require.NoError(t, err)

	job, err := uc.LeaseJob(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, uc.CompleteJob(ctx, job.ID, domain.JobOutcome{Success: false}))
	failed, err := uc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, failed.Status)
	assert.Equal(t, "unspecified failure", failed.Error)
	assert.Equal(t, 2, notifier.count(domain.QueueProverJobs))

	job, err = uc.LeaseJob(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, uc.CompleteJob(ctx, job.ID, domain.JobOutcome{Success: true, TimeTaken: time.Second}))

	done, err := uc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts)

	err = uc.CompleteJob(ctx, job.ID, domain.JobOutcome{Success: true})
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = uc.CompleteJob(ctx, "", domain.JobOutcome{Success: true})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	stats, err := uc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Counts[domain.StatusCompleted])
	assert.Zero(t, stats.Counts[domain.StatusLeased])
}

func TestProverUsecase_ProtocolVersionDefaults(t *testing.T) {
	ctx := context.Background()
	uc := NewProverUsecase(newTestStore(t), newFakeNotifier(), ProverConfig{AllowedProtocolVersions: []int32{2}})

	_, err := uc.EnqueueJobs(ctx, basicJobs(1, 1, "old"))
	require.NoError(t, err)
	_, err = uc.EnqueueJobs(ctx, basicJobs(2, 2, "new"))
	require.NoError(t, err)

	job, err := uc.LeaseJob(ctx, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "new", job.CircuitType)

	job, err = uc.LeaseJob(ctx, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = uc.LeaseJob(ctx, []int32{1}, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "old", job.CircuitType)
}
