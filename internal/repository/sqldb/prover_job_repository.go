package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/utils"
)

const proverJobsTable = "prover_jobs"

const proverJobColumns = `id, batch_number, circuit_type, circuit_blob_url, aggregation_round,
	sequence_number, protocol_version, status, attempts, error, time_taken_ms,
	created_at, updated_at, leased_at, completed_at`

var proverJobQuerySpec = selectSpec{
	table:       proverJobsTable,
	columns:     proverJobColumns,
	rangeColumn: "batch_number",
	orderColumns: map[string]string{
		"batch_number": "batch_number",
		"created_at":   "created_at",
		"id":           "id",
	},
	defaultOrder: "batch_number",
}

type proverJobRow struct {
	ID              string         `db:"id"`
	BatchNumber     int64          `db:"batch_number"`
	CircuitType     string         `db:"circuit_type"`
	CircuitBlobURL  string         `db:"circuit_blob_url"`
	Round           int32          `db:"aggregation_round"`
	SequenceNumber  int64          `db:"sequence_number"`
	ProtocolVersion int32          `db:"protocol_version"`
	Status          string         `db:"status"`
	Attempts        int64          `db:"attempts"`
	Error           sql.NullString `db:"error"`
	TimeTakenMs     sql.NullInt64  `db:"time_taken_ms"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
	LeasedAt        sql.NullInt64  `db:"leased_at"`
	CompletedAt     sql.NullInt64  `db:"completed_at"`
}

func (r *proverJobRow) toDomain() *domain.ProverJob {
	job := &domain.ProverJob{
		ID:              r.ID,
		BatchNumber:     uint64(r.BatchNumber),
		CircuitType:     r.CircuitType,
		CircuitBlobURL:  r.CircuitBlobURL,
		Round:           domain.AggregationRound(r.Round),
		SequenceNumber:  int(r.SequenceNumber),
		ProtocolVersion: r.ProtocolVersion,
		Status:          domain.Status(r.Status),
		Attempts:        int(r.Attempts),
		Error:           r.Error.String,
		TimeTaken:       time.Duration(r.TimeTakenMs.Int64) * time.Millisecond,
		CreatedAt:       utils.FromUnixMillis(r.CreatedAt),
		UpdatedAt:       utils.FromUnixMillis(r.UpdatedAt),
	}
	if r.LeasedAt.Valid {
		leasedAt := utils.FromUnixMillis(r.LeasedAt.Int64)
		job.LeasedAt = &leasedAt
	}
	if r.CompletedAt.Valid {
		completedAt := utils.FromUnixMillis(r.CompletedAt.Int64)
		job.CompletedAt = &completedAt
	}
	return job
}

type proverJobRepository struct {
	conn *Conn
}

// Enqueue inserts one queued job per circuit. Tuples that already exist are
// skipped, so retried producers never create duplicates. It returns the
// number of jobs actually inserted.
func (r *proverJobRepository) Enqueue(ctx context.Context, batchNumber uint64, circuits []domain.Circuit, round domain.AggregationRound, protocolVersion int32) (inserted int64, err error) {
	defer observe("enqueue", proverJobsTable, time.Now(), &err)

	if batchNumber > math.MaxInt64 {
		return 0, fmt.Errorf("%w: batch number out of range", domain.ErrInvalidArgument)
	}
	if !round.IsValid() {
		return 0, fmt.Errorf("%w: unknown aggregation round %d", domain.ErrInvalidArgument, round)
	}
	for _, circuit := range circuits {
		if circuit.Type == "" {
			return 0, fmt.Errorf("%w: circuit type is required", domain.ErrInvalidArgument)
		}
	}
	if len(circuits) == 0 {
		return 0, nil
	}

	now := r.conn.store.now().UnixMilli()
	query := r.conn.rebind(`
		INSERT INTO prover_jobs (
			id, batch_number, circuit_type, circuit_blob_url, aggregation_round,
			sequence_number, protocol_version, status, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'queued', 0, ?, ?)
		ON CONFLICT (batch_number, circuit_type, aggregation_round) DO NOTHING`)

	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		for seq, circuit := range circuits {
			res, err := q.ExecContext(ctx, query,
				utils.GenerateUUID(), int64(batchNumber), circuit.Type, circuit.BlobURL, int32(round),
				seq, protocolVersion, now, now,
			)
			if err != nil {
				return classify(fmt.Errorf("failed to insert %s job for batch %d: %w", circuit.Type, batchNumber, err))
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return classify(fmt.Errorf("failed to check rows affected: %w", err))
			}
			inserted += affected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info("Prover jobs enqueued",
		logger.Uint64("batch_number", batchNumber),
		logger.String("round", round.String()),
		logger.Int("circuits", len(circuits)),
		logger.Int32("protocol_version", protocolVersion),
		logger.Int64("inserted", inserted),
	)
	return inserted, nil
}

// LeaseNext claims one queued job whose protocol version is allowed. The
// selection and the transition to leased are one conditional UPDATE, so two
// callers can never lease the same row. It returns nil when nothing is
// eligible.
func (r *proverJobRepository) LeaseNext(ctx context.Context, protocolVersions []int32) (job *domain.ProverJob, err error) {
	defer observe("lease_next", proverJobsTable, time.Now(), &err)

	if len(protocolVersions) == 0 {
		return nil, nil
	}

	now := r.conn.store.now().UnixMilli()
	query, args, err := r.conn.in(fmt.Sprintf(`
		UPDATE prover_jobs SET
			status = 'leased',
			attempts = attempts + 1,
			leased_at = ?,
			updated_at = ?
		WHERE id = (
			SELECT id FROM prover_jobs
			WHERE status = 'queued' AND protocol_version IN (?)
			ORDER BY aggregation_round DESC, batch_number ASC, sequence_number ASC, id ASC
			LIMIT 1%s
		) AND status = 'queued'
		RETURNING %s`, r.conn.store.dialect.claimLock, proverJobColumns),
		now, now, protocolVersions,
	)
	if err != nil {
		return nil, err
	}

	var row proverJobRow
	found := true
	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		err := sqlx.GetContext(ctx, q, &row, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to lease prover job: %w", err))
	}
	if !found {
		return nil, nil
	}

	job = row.toDomain()
	if job.Status != domain.StatusLeased || job.LeasedAt == nil {
		return nil, fmt.Errorf("%w: lease of job %s returned status %s", domain.ErrInvariantViolation, job.ID, job.Status)
	}

	logger.Debug("Prover job leased",
		logger.String("job_id", job.ID),
		logger.Uint64("batch_number", job.BatchNumber),
		logger.String("circuit_type", job.CircuitType),
		logger.Int32("protocol_version", job.ProtocolVersion),
		logger.Int("attempts", job.Attempts),
	)
	return job, nil
}

// Complete records the worker's outcome for a leased job: success makes it
// completed, failure returns it to the queue with the error kept. Jobs not
// currently leased give ErrNotFound.
func (r *proverJobRepository) Complete(ctx context.Context, id string, outcome domain.JobOutcome) (err error) {
	defer observe("complete", proverJobsTable, time.Now(), &err)

	if outcome.TimeTaken < 0 {
		return fmt.Errorf("%w: negative time taken", domain.ErrInvalidArgument)
	}

	now := r.conn.store.now().UnixMilli()
	var (
		query string
		args  []interface{}
	)
	if outcome.Success {
		query = `
			UPDATE prover_jobs SET
				status = 'completed',
				leased_at = NULL,
				completed_at = ?,
				time_taken_ms = ?,
				error = NULL,
				updated_at = ?
			WHERE id = ? AND status = 'leased'`
		args = []interface{}{now, outcome.TimeTaken.Milliseconds(), now, id}
	} else {
		query = `
			UPDATE prover_jobs SET
				status = 'queued',
				leased_at = NULL,
				time_taken_ms = ?,
				error = ?,
				updated_at = ?
			WHERE id = ? AND status = 'leased'`
		args = []interface{}{outcome.TimeTaken.Milliseconds(), outcome.Error, now, id}
	}
	query = r.conn.rebind(query)

	var affected int64
	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return classify(fmt.Errorf("failed to complete prover job %s: %w", id, err))
	}
	if affected == 0 {
		return fmt.Errorf("%w: prover job %s is not leased", domain.ErrNotFound, id)
	}

	logger.Debug("Prover job finished",
		logger.String("job_id", id),
		logger.Bool("success", outcome.Success),
		logger.Duration("time_taken", outcome.TimeTaken),
	)
	return nil
}

// ReclaimStuck returns up to maxCount leases older than leaseTimeout to the
// queue. The update re-checks status and leased_at, so a job completed while
// the reclaim runs is never reverted.
func (r *proverJobRepository) ReclaimStuck(ctx context.Context, leaseTimeout time.Duration, maxCount int) (ids []string, err error) {
	defer observe("reclaim_stuck", proverJobsTable, time.Now(), &err)

	if leaseTimeout < 0 {
		return nil, fmt.Errorf("%w: negative lease timeout", domain.ErrInvalidArgument)
	}
	if maxCount <= 0 {
		return nil, fmt.Errorf("%w: max count must be positive", domain.ErrInvalidArgument)
	}

	now := r.conn.store.now()
	cutoff := now.Add(-leaseTimeout).UnixMilli()
	query := r.conn.rebind(fmt.Sprintf(`
		UPDATE prover_jobs SET
			status = 'queued',
			leased_at = NULL,
			updated_at = ?
		WHERE id IN (
			SELECT id FROM prover_jobs
			WHERE status = 'leased' AND leased_at <= ?
			ORDER BY leased_at ASC, id ASC
			LIMIT ?%s
		) AND status = 'leased' AND leased_at <= ?
		RETURNING id`, r.conn.store.dialect.claimLock))

	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		return sqlx.SelectContext(ctx, q, &ids, query, now.UnixMilli(), cutoff, maxCount, cutoff)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to reclaim stuck prover jobs: %w", err))
	}

	if len(ids) > 0 {
		logger.Warn("Stuck prover jobs returned to queue",
			logger.Int("count", len(ids)),
			logger.Duration("lease_timeout", leaseTimeout),
		)
	}
	return ids, nil
}

// Query is the read-only reporting view over prover jobs. Range applies to
// the batch number.
func (r *proverJobRepository) Query(ctx context.Context, filter domain.ProverJobFilter) (jobs []*domain.ProverJob, err error) {
	defer observe("query", proverJobsTable, time.Now(), &err)

	var (
		where []string
		args  []interface{}
	)
	if filter.Round != nil {
		if !filter.Round.IsValid() {
			return nil, fmt.Errorf("%w: unknown aggregation round %d", domain.ErrInvalidArgument, *filter.Round)
		}
		where = append(where, "aggregation_round = ?")
		args = append(args, int32(*filter.Round))
	}

	query, args, err := proverJobQuerySpec.buildSelect(filter.QueryFilter, where, args)
	if err != nil {
		return nil, err
	}
	query, args, err = r.conn.in(query, args...)
	if err != nil {
		return nil, err
	}

	var rows []proverJobRow
	if err := sqlx.SelectContext(ctx, r.conn.queryer(), &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("failed to query prover jobs: %w", err))
	}

	jobs = make([]*domain.ProverJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs, nil
}

// GetByID retrieves a prover job by ID
func (r *proverJobRepository) GetByID(ctx context.Context, id string) (job *domain.ProverJob, err error) {
	defer observe("get_by_id", proverJobsTable, time.Now(), &err)

	query := r.conn.rebind(fmt.Sprintf("SELECT %s FROM prover_jobs WHERE id = ?", proverJobColumns))

	var row proverJobRow
	if err := sqlx.GetContext(ctx, r.conn.queryer(), &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: prover job %s", domain.ErrNotFound, id)
		}
		return nil, classify(fmt.Errorf("failed to get prover job %s: %w", id, err))
	}
	return row.toDomain(), nil
}

// CountByStatus returns the number of jobs per status
func (r *proverJobRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	return countByStatus(ctx, r.conn, proverJobsTable)
}
