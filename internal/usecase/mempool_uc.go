package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/metrics"
	"github.com/alfanzaky/zkqueue/pkg/utils"
)

// MempoolConfig holds mempool policy knobs
type MempoolConfig struct {
	StuckTxMaxAge time.Duration
	MaxViewSize   int
}

// DefaultMempoolConfig returns default mempool configuration
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{
		StuckTxMaxAge: 24 * time.Hour,
		MaxViewSize:   1000,
	}
}

type mempoolUsecase struct {
	store    domain.Store
	notifier domain.Notifier
	cfg      MempoolConfig
}

// NewMempoolUsecase creates a new mempool use case. A nil notifier falls
// back to polling.
func NewMempoolUsecase(store domain.Store, notifier domain.Notifier, cfg MempoolConfig) domain.MempoolUsecase {
	defaults := DefaultMempoolConfig()
	if cfg.StuckTxMaxAge <= 0 {
		cfg.StuckTxMaxAge = defaults.StuckTxMaxAge
	}
	if cfg.MaxViewSize <= 0 {
		cfg.MaxViewSize = defaults.MaxViewSize
	}
	return &mempoolUsecase{
		store:    store,
		notifier: notifierOrPolling(notifier),
		cfg:      cfg,
	}
}

// SubmitTransaction validates an L2 transaction and inserts or replaces it
func (uc *mempoolUsecase) SubmitTransaction(ctx context.Context, tx *domain.Transaction) (domain.SubmissionResult, error) {
	if tx == nil {
		return "", fmt.Errorf("%w: missing transaction", domain.ErrInvalidArgument)
	}
	if tx.Origin != "" && tx.Origin != domain.OriginL2 {
		return "", fmt.Errorf("%w: expected an L2 transaction, got origin %q", domain.ErrInvalidArgument, tx.Origin)
	}
	tx.Origin = domain.OriginL2
	tx.PriorityOpID = nil

	if err := normalizeTransaction(tx); err != nil {
		return "", err
	}

	result, err := uc.store.Mempool().Submit(ctx, tx)
	if err != nil {
		logger.Ctx(ctx).Error("Failed to submit transaction",
			logger.String("tx_hash", tx.Hash),
			logger.ErrorField(err),
		)
		return "", err
	}
	metrics.RecordSubmission(string(domain.OriginL2), string(result))

	uc.notify(ctx, domain.QueueMempool)

	logger.Ctx(ctx).Info("Transaction submitted",
		logger.String("tx_hash", tx.Hash),
		logger.String("initiator", tx.Initiator),
		logger.Uint64("nonce", tx.Nonce),
		logger.String("result", string(result)),
	)
	return result, nil
}

// SubmitL1Transaction inserts an L1 priority operation. The nonce of an L1
// transaction is its priority op id.
func (uc *mempoolUsecase) SubmitL1Transaction(ctx context.Context, tx *domain.Transaction) (domain.SubmissionResult, error) {
	if tx == nil || tx.PriorityOpID == nil {
		return "", fmt.Errorf("%w: L1 transaction requires a priority op id", domain.ErrInvalidArgument)
	}
	tx.Origin = domain.OriginL1
	tx.Nonce = *tx.PriorityOpID

	if err := normalizeTransaction(tx); err != nil {
		return "", err
	}

	result, err := uc.store.Mempool().SubmitL1(ctx, tx)
	if err != nil {
		logger.Ctx(ctx).Error("Failed to submit L1 transaction",
			logger.Uint64("priority_op_id", *tx.PriorityOpID),
			logger.ErrorField(err),
		)
		return "", err
	}
	metrics.RecordSubmission(string(domain.OriginL1), string(result))

	if result == domain.SubmissionAdded {
		uc.notify(ctx, domain.QueueMempool)
	}

	logger.Ctx(ctx).Info("L1 transaction submitted",
		logger.String("tx_hash", tx.Hash),
		logger.Uint64("priority_op_id", *tx.PriorityOpID),
		logger.String("result", string(result)),
	)
	return result, nil
}

// ViewTransactions materialises a capped mempool view
func (uc *mempoolUsecase) ViewTransactions(ctx context.Context, filter domain.MempoolFilter) ([]*domain.Transaction, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", domain.ErrInvalidArgument)
	}
	if filter.Limit == 0 || filter.Limit > uc.cfg.MaxViewSize {
		filter.Limit = uc.cfg.MaxViewSize
	}
	if filter.Initiator != "" {
		initiator, err := utils.NormalizeAddress(filter.Initiator)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		filter.Initiator = initiator
	}
	if filter.Origin != "" && filter.Origin != domain.OriginL1 && filter.Origin != domain.OriginL2 {
		return nil, fmt.Errorf("%w: unknown origin %q", domain.ErrInvalidArgument, filter.Origin)
	}

	txs := make([]*domain.Transaction, 0, min(filter.Limit, 64))
	for tx, err := range uc.store.Mempool().View(ctx, filter) {
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetTransaction returns the latest entry for a hash
func (uc *mempoolUsecase) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, error) {
	normalized, err := utils.NormalizeHash(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return uc.store.Mempool().GetByHash(ctx, normalized)
}

// SealBlock attaches executed transactions to a block and fans out the
// block's basic-circuit prover jobs in the same database transaction.
func (uc *mempoolUsecase) SealBlock(ctx context.Context, req domain.SealBlockRequest) error {
	executed := make([]domain.ExecutedTransaction, 0, len(req.Executed))
	for _, item := range req.Executed {
		hash, err := utils.NormalizeHash(item.Hash)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		item.Hash = hash
		executed = append(executed, item)
	}

	tx, err := uc.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := tx.Mempool().AttachToBlock(ctx, req.BlockNumber, executed); err != nil {
		logger.Ctx(ctx).Warn("Failed to attach transactions to block",
			logger.Uint64("block_number", req.BlockNumber),
			logger.ErrorField(err),
		)
		return err
	}

	var enqueued int64
	if len(req.Circuits) > 0 {
		enqueued, err = tx.ProverJobs().Enqueue(ctx, req.BlockNumber, req.Circuits, domain.RoundBasicCircuits, req.ProtocolVersion)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.RecordAttached(len(executed))
	if enqueued > 0 {
		metrics.RecordJobsEnqueued(domain.RoundBasicCircuits.String(), enqueued)
		uc.notify(ctx, domain.QueueProverJobs)
	}

	logger.Ctx(ctx).Info("Block sealed",
		logger.Uint64("block_number", req.BlockNumber),
		logger.Int("transactions", len(executed)),
		logger.Int64("jobs_enqueued", enqueued),
	)
	return nil
}

// PruneStuck removes stale live L2 transactions. A non-positive maxAge uses
// the configured threshold.
func (uc *mempoolUsecase) PruneStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = uc.cfg.StuckTxMaxAge
	}
	removed, err := uc.store.Mempool().PruneStuck(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	metrics.RecordPruned(removed)
	return removed, nil
}

// QueryTransactions is the reporting view over all mempool entries
func (uc *mempoolUsecase) QueryTransactions(ctx context.Context, filter domain.QueryFilter) ([]*domain.Transaction, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return uc.store.Mempool().Query(ctx, filter)
}

// Stats returns mempool entry counts and refreshes the queue gauges
func (uc *mempoolUsecase) Stats(ctx context.Context) (*domain.QueueStats, error) {
	counts, err := uc.store.Mempool().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := queueStats(domain.QueueMempool, counts)
	for status, n := range stats.Counts {
		metrics.SetQueueEntries(domain.QueueMempool, string(status), float64(n))
	}
	return stats, nil
}

func (uc *mempoolUsecase) notify(ctx context.Context, queue string) {
	if err := uc.notifier.Notify(ctx, queue); err != nil {
		metrics.RecordSystemError("notify_failed", "usecase")
		logger.Ctx(ctx).Warn("Failed to signal queue",
			logger.String("queue", queue),
			logger.ErrorField(err),
		)
	}
}

// normalizeTransaction canonicalises addresses and hashes. A missing hash is
// derived from the transaction content.
func normalizeTransaction(tx *domain.Transaction) error {
	initiator, err := utils.NormalizeAddress(tx.Initiator)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	tx.Initiator = initiator

	if tx.Hash == "" {
		tx.Hash = utils.TransactionHash(tx.Initiator, tx.Nonce,
			tx.Fee.GasLimit, tx.Fee.MaxFeePerGas, tx.Fee.MaxPriorityFeePerGas, tx.Fee.GasPerPubdataLimit,
			tx.Payload)
		return nil
	}

	hash, err := utils.NormalizeHash(tx.Hash)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	tx.Hash = hash
	return nil
}
