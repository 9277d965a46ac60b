package domain

import (
	"context"
	"iter"
	"time"
)

// Origin tells where a transaction entered the system
type Origin string

const (
	OriginL1 Origin = "l1"
	OriginL2 Origin = "l2"
)

// SubmissionResult is the outcome of inserting a transaction into the mempool
type SubmissionResult string

const (
	SubmissionAdded     SubmissionResult = "added"
	SubmissionReplaced  SubmissionResult = "replaced"
	SubmissionDuplicate SubmissionResult = "duplicate"
)

// MempoolOrder selects the ordering key for mempool views
type MempoolOrder string

const (
	OrderByCreatedAt MempoolOrder = "created_at"
	OrderByFee       MempoolOrder = "fee"
	OrderByNonce     MempoolOrder = "nonce"
)

// Fee holds the fee parameters a submitter attached to a transaction
type Fee struct {
	GasLimit             uint64 `json:"gas_limit"`
	MaxFeePerGas         uint64 `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas uint64 `json:"max_priority_fee_per_gas"`
	GasPerPubdataLimit   uint64 `json:"gas_per_pubdata_limit"`
}

// ExecutionMetrics is recorded for each transaction attached to a block
type ExecutionMetrics struct {
	GasUsed          uint64 `json:"gas_used"`
	RefundedGas      uint64 `json:"refunded_gas"`
	PubdataPublished uint64 `json:"pubdata_published"`
	Success          bool   `json:"success"`
	RevertReason     string `json:"revert_reason,omitempty"`
}

// Transaction represents a mempool entry
type Transaction struct {
	ID           string  `json:"id"`
	Hash         string  `json:"hash"`
	Initiator    string  `json:"initiator_address"`
	Nonce        uint64  `json:"nonce"`
	Origin       Origin  `json:"origin"`
	PriorityOpID *uint64 `json:"priority_op_id,omitempty"`
	Payload      []byte  `json:"payload"`
	Fee          Fee     `json:"fee"`
	Status       Status  `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	BlockNumber  *uint64           `json:"block_number,omitempty"`
	IndexInBlock *int              `json:"index_in_block,omitempty"`
	Execution    *ExecutionMetrics `json:"execution,omitempty"`
}

// IsL1 reports whether the transaction is an L1 priority operation
func (t *Transaction) IsL1() bool {
	return t.Origin == OriginL1
}

// IsLive reports whether the transaction is still visible to block assembly
func (t *Transaction) IsLive() bool {
	return t.Status == StatusQueued && t.BlockNumber == nil
}

// IsStuck checks if a live L2 transaction is older than maxAge at now.
// L1 transactions are never stuck.
func (t *Transaction) IsStuck(now time.Time, maxAge time.Duration) bool {
	if t.IsL1() || !t.IsLive() {
		return false
	}
	return t.CreatedAt.Before(now.Add(-maxAge))
}

// ExecutedTransaction names a transaction included in a block with its metrics
type ExecutedTransaction struct {
	Hash    string           `json:"hash"`
	Metrics ExecutionMetrics `json:"metrics"`
}

// MempoolFilter narrows a mempool view. Limit <= 0 yields every live entry.
type MempoolFilter struct {
	Initiator    string       `json:"initiator,omitempty"`
	Origin       Origin       `json:"origin,omitempty"`
	MinFeePerGas uint64       `json:"min_fee_per_gas,omitempty"`
	OrderBy      MempoolOrder `json:"order_by,omitempty"`
	Desc         bool         `json:"desc,omitempty"`
	Limit        int          `json:"limit,omitempty"`
}

// MempoolRepository defines the mempool queue operations against storage
type MempoolRepository interface {
	Submit(ctx context.Context, tx *Transaction) (SubmissionResult, error)
	SubmitL1(ctx context.Context, tx *Transaction) (SubmissionResult, error)
	View(ctx context.Context, filter MempoolFilter) iter.Seq2[*Transaction, error]
	AttachToBlock(ctx context.Context, blockNumber uint64, executed []ExecutedTransaction) error
	PruneStuck(ctx context.Context, maxAge time.Duration) (int64, error)
	GetByHash(ctx context.Context, hash string) (*Transaction, error)
	Query(ctx context.Context, filter QueryFilter) ([]*Transaction, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// SealBlockRequest attaches executed transactions to a block and optionally
// fans out the basic-circuit prover jobs for the same batch number.
type SealBlockRequest struct {
	BlockNumber     uint64                `json:"block_number"`
	Executed        []ExecutedTransaction `json:"executed"`
	Circuits        []Circuit             `json:"circuits,omitempty"`
	ProtocolVersion int32                 `json:"protocol_version,omitempty"`
}

// MempoolUsecase defines business operations of the mempool queue
type MempoolUsecase interface {
	SubmitTransaction(ctx context.Context, tx *Transaction) (SubmissionResult, error)
	SubmitL1Transaction(ctx context.Context, tx *Transaction) (SubmissionResult, error)
	ViewTransactions(ctx context.Context, filter MempoolFilter) ([]*Transaction, error)
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	SealBlock(ctx context.Context, req SealBlockRequest) error
	PruneStuck(ctx context.Context, maxAge time.Duration) (int64, error)
	QueryTransactions(ctx context.Context, filter QueryFilter) ([]*Transaction, error)
	Stats(ctx context.Context) (*QueueStats, error)
}
