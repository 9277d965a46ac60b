package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/utils"
)

const mempoolTable = "mempool_entries"

const mempoolColumns = `id, tx_hash, initiator_address, nonce, origin, priority_op_id, payload,
	gas_limit, max_fee_per_gas, max_priority_fee_per_gas, gas_per_pubdata_limit,
	status, created_at, updated_at, completed_at, block_number, index_in_block, execution_info`

var mempoolQuerySpec = selectSpec{
	table:       mempoolTable,
	columns:     mempoolColumns,
	rangeColumn: "block_number",
	orderColumns: map[string]string{
		"created_at":   "created_at",
		"block_number": "block_number",
		"nonce":        "nonce",
		"fee":          "max_fee_per_gas",
	},
	defaultOrder: "created_at",
}

type transactionRow struct {
	ID                   string         `db:"id"`
	Hash                 string         `db:"tx_hash"`
	Initiator            string         `db:"initiator_address"`
	Nonce                int64          `db:"nonce"`
	Origin               string         `db:"origin"`
	PriorityOpID         sql.NullInt64  `db:"priority_op_id"`
	Payload              []byte         `db:"payload"`
	GasLimit             int64          `db:"gas_limit"`
	MaxFeePerGas         int64          `db:"max_fee_per_gas"`
	MaxPriorityFeePerGas int64          `db:"max_priority_fee_per_gas"`
	GasPerPubdataLimit   int64          `db:"gas_per_pubdata_limit"`
	Status               string         `db:"status"`
	CreatedAt            int64          `db:"created_at"`
	UpdatedAt            int64          `db:"updated_at"`
	CompletedAt          sql.NullInt64  `db:"completed_at"`
	BlockNumber          sql.NullInt64  `db:"block_number"`
	IndexInBlock         sql.NullInt64  `db:"index_in_block"`
	ExecutionInfo        sql.NullString `db:"execution_info"`
}

func (r *transactionRow) toDomain() (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:        r.ID,
		Hash:      r.Hash,
		Initiator: r.Initiator,
		Nonce:     uint64(r.Nonce),
		Origin:    domain.Origin(r.Origin),
		Payload:   r.Payload,
		Fee: domain.Fee{
			GasLimit:             uint64(r.GasLimit),
			MaxFeePerGas:         uint64(r.MaxFeePerGas),
			MaxPriorityFeePerGas: uint64(r.MaxPriorityFeePerGas),
			GasPerPubdataLimit:   uint64(r.GasPerPubdataLimit),
		},
		Status:    domain.Status(r.Status),
		CreatedAt: utils.FromUnixMillis(r.CreatedAt),
		UpdatedAt: utils.FromUnixMillis(r.UpdatedAt),
	}
	if r.PriorityOpID.Valid {
		id := uint64(r.PriorityOpID.Int64)
		tx.PriorityOpID = &id
	}
	if r.CompletedAt.Valid {
		completedAt := utils.FromUnixMillis(r.CompletedAt.Int64)
		tx.CompletedAt = &completedAt
	}
	if r.BlockNumber.Valid {
		block := uint64(r.BlockNumber.Int64)
		tx.BlockNumber = &block
	}
	if r.IndexInBlock.Valid {
		index := int(r.IndexInBlock.Int64)
		tx.IndexInBlock = &index
	}
	if r.ExecutionInfo.Valid && r.ExecutionInfo.String != "" {
		var info domain.ExecutionMetrics
		if err := json.Unmarshal([]byte(r.ExecutionInfo.String), &info); err != nil {
			return nil, fmt.Errorf("failed to decode execution info of %s: %w", r.Hash, err)
		}
		tx.Execution = &info
	}
	return tx, nil
}

func (r *transactionRow) orderKey(column string) int64 {
	switch column {
	case "max_fee_per_gas":
		return r.MaxFeePerGas
	case "nonce":
		return r.Nonce
	default:
		return r.CreatedAt
	}
}

type mempoolRepository struct {
	conn *Conn
}

// Submit inserts an L2 transaction, or replaces the live entry holding the
// same (initiator, nonce) in place. Replacement happens even when the
// content hash is identical.
func (r *mempoolRepository) Submit(ctx context.Context, tx *domain.Transaction) (result domain.SubmissionResult, err error) {
	defer observe("submit", mempoolTable, time.Now(), &err)

	if tx == nil {
		return "", fmt.Errorf("%w: nil transaction", domain.ErrInvalidArgument)
	}
	if tx.Origin == domain.OriginL1 {
		return "", fmt.Errorf("%w: L1 transactions must be inserted with SubmitL1", domain.ErrInvalidArgument)
	}
	args, err := transactionArgs(tx)
	if err != nil {
		return "", err
	}

	now := r.conn.store.now()
	id := utils.GenerateUUID()
	query := r.conn.rebind(`
		INSERT INTO mempool_entries (
			id, tx_hash, initiator_address, nonce, origin, payload,
			gas_limit, max_fee_per_gas, max_priority_fee_per_gas, gas_per_pubdata_limit,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'l2', ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT (initiator_address, nonce) WHERE origin = 'l2' AND status = 'queued'
		DO UPDATE SET
			tx_hash = excluded.tx_hash,
			payload = excluded.payload,
			gas_limit = excluded.gas_limit,
			max_fee_per_gas = excluded.max_fee_per_gas,
			max_priority_fee_per_gas = excluded.max_priority_fee_per_gas,
			gas_per_pubdata_limit = excluded.gas_per_pubdata_limit,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		RETURNING id`)

	var storedID string
	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		if err := r.checkHashFree(ctx, q, tx.Hash,
			"NOT (origin = 'l2' AND initiator_address = ? AND nonce = ?)", tx.Initiator, args.nonce); err != nil {
			return err
		}
		return sqlx.GetContext(ctx, q, &storedID, query,
			id, tx.Hash, tx.Initiator, args.nonce, args.payload,
			args.gasLimit, args.maxFeePerGas, args.maxPriorityFeePerGas, args.gasPerPubdata,
			now.UnixMilli(), now.UnixMilli(),
		)
	})
	if err != nil {
		return "", hashConflict(classify(fmt.Errorf("failed to submit transaction %s: %w", tx.Hash, err)), tx.Hash)
	}

	result = domain.SubmissionReplaced
	if storedID == id {
		result = domain.SubmissionAdded
	}

	tx.ID = storedID
	tx.Origin = domain.OriginL2
	tx.Status = domain.StatusQueued
	tx.CreatedAt = now
	tx.UpdatedAt = now

	logger.Debug("Mempool transaction stored",
		logger.String("tx_hash", tx.Hash),
		logger.String("initiator", tx.Initiator),
		logger.Uint64("nonce", tx.Nonce),
		logger.String("result", string(result)),
	)
	return result, nil
}

// SubmitL1 inserts an L1 priority transaction keyed by its priority op id.
// A repeated id is a no-op; L1 entries are never replaced.
func (r *mempoolRepository) SubmitL1(ctx context.Context, tx *domain.Transaction) (result domain.SubmissionResult, err error) {
	defer observe("submit_l1", mempoolTable, time.Now(), &err)

	if tx == nil || tx.PriorityOpID == nil {
		return "", fmt.Errorf("%w: L1 transaction requires a priority op id", domain.ErrInvalidArgument)
	}
	if *tx.PriorityOpID > math.MaxInt64 {
		return "", fmt.Errorf("%w: priority op id out of range", domain.ErrInvalidArgument)
	}
	args, err := transactionArgs(tx)
	if err != nil {
		return "", err
	}

	now := r.conn.store.now()
	id := utils.GenerateUUID()
	query := r.conn.rebind(`
		INSERT INTO mempool_entries (
			id, tx_hash, initiator_address, nonce, origin, priority_op_id, payload,
			gas_limit, max_fee_per_gas, max_priority_fee_per_gas, gas_per_pubdata_limit,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'l1', ?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT (priority_op_id) DO NOTHING`)

	var inserted int64
	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		var present int64
		if err := sqlx.GetContext(ctx, q, &present, r.conn.rebind(
			"SELECT COUNT(*) FROM mempool_entries WHERE priority_op_id = ?"), int64(*tx.PriorityOpID)); err != nil {
			return err
		}
		if present > 0 {
			return nil
		}
		if err := r.checkHashFree(ctx, q, tx.Hash, ""); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, query,
			id, tx.Hash, tx.Initiator, args.nonce, int64(*tx.PriorityOpID), args.payload,
			args.gasLimit, args.maxFeePerGas, args.maxPriorityFeePerGas, args.gasPerPubdata,
			now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return "", hashConflict(classify(fmt.Errorf("failed to insert L1 transaction %d: %w", *tx.PriorityOpID, err)), tx.Hash)
	}

	if inserted == 0 {
		logger.Debug("L1 transaction already present",
			logger.Uint64("priority_op_id", *tx.PriorityOpID),
		)
		return domain.SubmissionDuplicate, nil
	}

	tx.ID = id
	tx.Origin = domain.OriginL1
	tx.Status = domain.StatusQueued
	tx.CreatedAt = now
	tx.UpdatedAt = now

	logger.Debug("L1 transaction stored",
		logger.String("tx_hash", tx.Hash),
		logger.Uint64("priority_op_id", *tx.PriorityOpID),
	)
	return domain.SubmissionAdded, nil
}

// checkHashFree fails with ErrInvalidArgument when a live entry other than
// the one matched by exclude already carries hash.
func (r *mempoolRepository) checkHashFree(ctx context.Context, q sqlx.ExtContext, hash, exclude string, args ...interface{}) error {
	query := "SELECT COUNT(*) FROM mempool_entries WHERE tx_hash = ? AND status = 'queued'"
	if exclude != "" {
		query += " AND " + exclude
	}

	var taken int64
	if err := sqlx.GetContext(ctx, q, &taken, r.conn.rebind(query), append([]interface{}{hash}, args...)...); err != nil {
		return err
	}
	if taken > 0 {
		return fmt.Errorf("%w: hash %s is already live under another entry", domain.ErrInvalidArgument, hash)
	}
	return nil
}

// hashConflict maps a unique violation on the live hash index, raised when
// two submissions race, to ErrInvalidArgument.
func hashConflict(err error, hash string) error {
	if err == nil || errors.Is(err, domain.ErrInvalidArgument) || !isUniqueViolation(err) {
		return err
	}
	return fmt.Errorf("%w: hash %s is already live under another entry: %w", domain.ErrInvalidArgument, hash, err)
}

type viewCursor struct {
	key int64
	id  string
}

// View lazily yields live queued transactions not yet attached to a block.
// Rows are fetched page by page with keyset pagination, so ranging over the
// sequence again restarts from the first entry.
func (r *mempoolRepository) View(ctx context.Context, filter domain.MempoolFilter) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		column, err := viewOrderColumn(filter.OrderBy)
		if err != nil {
			yield(nil, err)
			return
		}

		pageSize := r.conn.store.pageSize
		remaining := filter.Limit
		var cursor *viewCursor

		for {
			size := pageSize
			if filter.Limit > 0 && remaining < size {
				size = remaining
			}

			rows, err := r.viewPage(ctx, filter, column, cursor, size)
			if err != nil {
				yield(nil, err)
				return
			}
			for i := range rows {
				tx, err := rows[i].toDomain()
				if !yield(tx, err) || err != nil {
					return
				}
			}

			if len(rows) < size {
				return
			}
			if filter.Limit > 0 {
				remaining -= len(rows)
				if remaining <= 0 {
					return
				}
			}
			last := rows[len(rows)-1]
			cursor = &viewCursor{key: last.orderKey(column), id: last.ID}
		}
	}
}

func (r *mempoolRepository) viewPage(ctx context.Context, filter domain.MempoolFilter, column string, cursor *viewCursor, size int) (rows []transactionRow, err error) {
	defer observe("view", mempoolTable, time.Now(), &err)

	where := []string{"status = 'queued'", "block_number IS NULL"}
	var args []interface{}

	if filter.Initiator != "" {
		where = append(where, "initiator_address = ?")
		args = append(args, filter.Initiator)
	}
	if filter.Origin != "" {
		where = append(where, "origin = ?")
		args = append(args, string(filter.Origin))
	}
	if filter.MinFeePerGas > 0 {
		if filter.MinFeePerGas > math.MaxInt64 {
			return nil, fmt.Errorf("%w: min fee out of range", domain.ErrInvalidArgument)
		}
		where = append(where, "max_fee_per_gas >= ?")
		args = append(args, int64(filter.MinFeePerGas))
	}

	cmp, direction := ">", "ASC"
	if filter.Desc {
		cmp, direction = "<", "DESC"
	}
	if cursor != nil {
		where = append(where, fmt.Sprintf("(%s %s ? OR (%s = ? AND id %s ?))", column, cmp, column, cmp))
		args = append(args, cursor.key, cursor.key, cursor.id)
	}
	args = append(args, size)

	query := r.conn.rebind(fmt.Sprintf(
		"SELECT %s FROM mempool_entries WHERE %s ORDER BY %s %s, id %s LIMIT ?",
		mempoolColumns, strings.Join(where, " AND "), column, direction, direction,
	))

	if err := sqlx.SelectContext(ctx, r.conn.queryer(), &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("failed to read mempool: %w", err))
	}
	return rows, nil
}

func viewOrderColumn(order domain.MempoolOrder) (string, error) {
	switch order {
	case "", domain.OrderByCreatedAt:
		return "created_at", nil
	case domain.OrderByFee:
		return "max_fee_per_gas", nil
	case domain.OrderByNonce:
		return "nonce", nil
	default:
		return "", fmt.Errorf("%w: unknown mempool order %q", domain.ErrInvalidArgument, order)
	}
}

// AttachToBlock marks the named live transactions Completed in blockNumber.
// Either every hash is attached or none is: a missing hash fails the whole
// call with ErrNotFound.
func (r *mempoolRepository) AttachToBlock(ctx context.Context, blockNumber uint64, executed []domain.ExecutedTransaction) (err error) {
	defer observe("attach_to_block", mempoolTable, time.Now(), &err)

	if blockNumber > math.MaxInt64 {
		return fmt.Errorf("%w: block number out of range", domain.ErrInvalidArgument)
	}
	if len(executed) == 0 {
		return nil
	}

	now := r.conn.store.now().UnixMilli()
	query := r.conn.rebind(`
		UPDATE mempool_entries SET
			status = 'completed',
			block_number = ?,
			index_in_block = ?,
			execution_info = ?,
			completed_at = ?,
			updated_at = ?
		WHERE tx_hash = ? AND status = 'queued' AND block_number IS NULL`)

	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		for index, item := range executed {
			info, err := json.Marshal(item.Metrics)
			if err != nil {
				return fmt.Errorf("failed to encode execution metrics of %s: %w", item.Hash, err)
			}
			res, err := q.ExecContext(ctx, query, int64(blockNumber), index, string(info), now, now, item.Hash)
			if err != nil {
				return classify(fmt.Errorf("failed to attach %s to block %d: %w", item.Hash, blockNumber, err))
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return classify(fmt.Errorf("failed to check rows affected: %w", err))
			}
			switch {
			case affected == 0:
				return fmt.Errorf("%w: transaction %s is not a live mempool entry", domain.ErrNotFound, item.Hash)
			case affected > 1:
				return fmt.Errorf("%w: %d live entries share hash %s", domain.ErrInvariantViolation, affected, item.Hash)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Transactions attached to block",
		logger.Uint64("block_number", blockNumber),
		logger.Int("count", len(executed)),
	)
	return nil
}

// PruneStuck deletes live L2 transactions created before now-maxAge.
// L1 transactions are exempt at any age.
func (r *mempoolRepository) PruneStuck(ctx context.Context, maxAge time.Duration) (removed int64, err error) {
	defer observe("prune_stuck", mempoolTable, time.Now(), &err)

	if maxAge < 0 {
		return 0, fmt.Errorf("%w: negative max age", domain.ErrInvalidArgument)
	}
	cutoff := r.conn.store.now().Add(-maxAge).UnixMilli()
	query := r.conn.rebind(`
		DELETE FROM mempool_entries
		WHERE status = 'queued' AND origin = 'l2' AND block_number IS NULL AND created_at < ?`)

	err = r.conn.atomic(ctx, func(q sqlx.ExtContext) error {
		res, err := q.ExecContext(ctx, query, cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, classify(fmt.Errorf("failed to prune stuck transactions: %w", err))
	}

	if removed > 0 {
		logger.Info("Stuck mempool transactions pruned",
			logger.Int64("removed", removed),
			logger.Duration("max_age", maxAge),
		)
	}
	return removed, nil
}

// GetByHash returns the most recent entry with the given hash, including
// entries already executed in a block.
func (r *mempoolRepository) GetByHash(ctx context.Context, hash string) (tx *domain.Transaction, err error) {
	defer observe("get_by_hash", mempoolTable, time.Now(), &err)

	query := r.conn.rebind(fmt.Sprintf(
		"SELECT %s FROM mempool_entries WHERE tx_hash = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		mempoolColumns,
	))

	var row transactionRow
	if err := sqlx.GetContext(ctx, r.conn.queryer(), &row, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, hash)
		}
		return nil, classify(fmt.Errorf("failed to get transaction %s: %w", hash, err))
	}
	return row.toDomain()
}

// Query is the read-only reporting view over every mempool entry. Range
// applies to the block number.
func (r *mempoolRepository) Query(ctx context.Context, filter domain.QueryFilter) (txs []*domain.Transaction, err error) {
	defer observe("query", mempoolTable, time.Now(), &err)

	query, args, err := mempoolQuerySpec.buildSelect(filter, nil, nil)
	if err != nil {
		return nil, err
	}
	query, args, err = r.conn.in(query, args...)
	if err != nil {
		return nil, err
	}

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, r.conn.queryer(), &rows, query, args...); err != nil {
		return nil, classify(fmt.Errorf("failed to query mempool entries: %w", err))
	}

	txs = make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// CountByStatus returns the number of entries per status
func (r *mempoolRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	return countByStatus(ctx, r.conn, mempoolTable)
}

type transactionArgValues struct {
	nonce                int64
	gasLimit             int64
	maxFeePerGas         int64
	maxPriorityFeePerGas int64
	gasPerPubdata        int64
	payload              []byte
}

func transactionArgs(tx *domain.Transaction) (transactionArgValues, error) {
	if tx.Hash == "" || tx.Initiator == "" {
		return transactionArgValues{}, fmt.Errorf("%w: transaction hash and initiator are required", domain.ErrInvalidArgument)
	}
	for name, v := range map[string]uint64{
		"nonce":                    tx.Nonce,
		"gas_limit":                tx.Fee.GasLimit,
		"max_fee_per_gas":          tx.Fee.MaxFeePerGas,
		"max_priority_fee_per_gas": tx.Fee.MaxPriorityFeePerGas,
		"gas_per_pubdata_limit":    tx.Fee.GasPerPubdataLimit,
	} {
		if v > math.MaxInt64 {
			return transactionArgValues{}, fmt.Errorf("%w: %s out of range", domain.ErrInvalidArgument, name)
		}
	}
	payload := tx.Payload
	if payload == nil {
		payload = []byte{}
	}
	return transactionArgValues{
		nonce:                int64(tx.Nonce),
		gasLimit:             int64(tx.Fee.GasLimit),
		maxFeePerGas:         int64(tx.Fee.MaxFeePerGas),
		maxPriorityFeePerGas: int64(tx.Fee.MaxPriorityFeePerGas),
		gasPerPubdata:        int64(tx.Fee.GasPerPubdataLimit),
		payload:              payload,
	}, nil
}

type statusCount struct {
	Status string `db:"status"`
	Count  int64  `db:"count"`
}

func countByStatus(ctx context.Context, conn *Conn, table string) (counts map[domain.Status]int64, err error) {
	defer observe("count_by_status", table, time.Now(), &err)

	var rows []statusCount
	query := fmt.Sprintf("SELECT status, COUNT(*) AS count FROM %s GROUP BY status", table)
	if err := sqlx.SelectContext(ctx, conn.queryer(), &rows, query); err != nil {
		return nil, classify(fmt.Errorf("failed to count %s: %w", table, err))
	}

	counts = make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[domain.Status(row.Status)] = row.Count
	}
	return counts, nil
}
