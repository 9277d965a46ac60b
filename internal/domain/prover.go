package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AggregationRound is the proof aggregation level a job belongs to
type AggregationRound int32

const (
	RoundBasicCircuits    AggregationRound = 0
	RoundLeafAggregation  AggregationRound = 1
	RoundNodeAggregation  AggregationRound = 2
	RoundScheduler        AggregationRound = 3
	RoundProofCompression AggregationRound = 4
)

const maxAggregationRound = RoundProofCompression

// String returns the round name used in logs and metrics
func (r AggregationRound) String() string {
	switch r {
	case RoundBasicCircuits:
		return "basic_circuits"
	case RoundLeafAggregation:
		return "leaf_aggregation"
	case RoundNodeAggregation:
		return "node_aggregation"
	case RoundScheduler:
		return "scheduler"
	case RoundProofCompression:
		return "proof_compression"
	default:
		return "round_" + strconv.Itoa(int(r))
	}
}

// IsValid checks if the round is known
func (r AggregationRound) IsValid() bool {
	return r >= RoundBasicCircuits && r <= maxAggregationRound
}

// ParseAggregationRound accepts either the numeric value or the round name
func ParseAggregationRound(value string) (AggregationRound, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if n, err := strconv.Atoi(value); err == nil {
		round := AggregationRound(n)
		if round.IsValid() {
			return round, nil
		}
	}
	for r := RoundBasicCircuits; r <= maxAggregationRound; r++ {
		if r.String() == value {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown aggregation round %q", ErrInvalidArgument, value)
}

// Circuit describes one proof circuit produced for a batch
type Circuit struct {
	Type    string `json:"type"`
	BlobURL string `json:"blob_url"`
}

// ProverJob represents a proof-generation job entry
type ProverJob struct {
	ID              string           `json:"id"`
	BatchNumber     uint64           `json:"batch_number"`
	CircuitType     string           `json:"circuit_type"`
	CircuitBlobURL  string           `json:"circuit_blob_url"`
	Round           AggregationRound `json:"aggregation_round"`
	SequenceNumber  int              `json:"sequence_number"`
	ProtocolVersion int32            `json:"protocol_version"`
	Status          Status           `json:"status"`
	Attempts        int              `json:"attempts"`
	Error           string           `json:"error,omitempty"`
	TimeTaken       time.Duration    `json:"time_taken"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LeasedAt    *time.Time `json:"leased_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsLeaseExpired checks if a leased job has been held longer than timeout at now
func (j *ProverJob) IsLeaseExpired(now time.Time, timeout time.Duration) bool {
	if j.Status != StatusLeased || j.LeasedAt == nil {
		return false
	}
	return !j.LeasedAt.After(now.Add(-timeout))
}

// JobOutcome is reported by a worker when it finishes with a leased job.
// A failed outcome sends the job back to the queue.
type JobOutcome struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	TimeTaken time.Duration `json:"time_taken"`
}

// ProverJobFilter extends the shared query filter with a round constraint.
// Range applies to the batch number.
type ProverJobFilter struct {
	QueryFilter
	Round *AggregationRound `json:"round,omitempty"`
}

// ProverJobRepository defines the prover job queue operations against storage
type ProverJobRepository interface {
	Enqueue(ctx context.Context, batchNumber uint64, circuits []Circuit, round AggregationRound, protocolVersion int32) (int64, error)
	LeaseNext(ctx context.Context, protocolVersions []int32) (*ProverJob, error)
	Complete(ctx context.Context, id string, outcome JobOutcome) error
	ReclaimStuck(ctx context.Context, leaseTimeout time.Duration, maxCount int) ([]string, error)
	Query(ctx context.Context, filter ProverJobFilter) ([]*ProverJob, error)
	GetByID(ctx context.Context, id string) (*ProverJob, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// EnqueueJobsRequest fans out circuit jobs for one batch and round
type EnqueueJobsRequest struct {
	BatchNumber     uint64           `json:"batch_number"`
	Circuits        []Circuit        `json:"circuits"`
	Round           AggregationRound `json:"aggregation_round"`
	ProtocolVersion int32            `json:"protocol_version"`
}

// ProverUsecase defines business operations of the prover job queue
type ProverUsecase interface {
	EnqueueJobs(ctx context.Context, req EnqueueJobsRequest) (int64, error)
	LeaseJob(ctx context.Context, protocolVersions []int32, wait time.Duration) (*ProverJob, error)
	CompleteJob(ctx context.Context, id string, outcome JobOutcome) error
	ReclaimStuck(ctx context.Context, leaseTimeout time.Duration, maxCount int) ([]string, error)
	QueryJobs(ctx context.Context, filter ProverJobFilter) ([]*ProverJob, error)
	GetJob(ctx context.Context, id string) (*ProverJob, error)
	Stats(ctx context.Context) (*QueueStats, error)
}
