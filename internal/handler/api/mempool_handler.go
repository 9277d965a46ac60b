package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/xresponse"
)

// MempoolHandler handles HTTP requests for the mempool queue
type MempoolHandler struct {
	mempoolUC domain.MempoolUsecase
	roleGuard *RoleGuard
}

// NewMempoolHandler creates a new mempool handler
func NewMempoolHandler(mempoolUC domain.MempoolUsecase) *MempoolHandler {
	return &MempoolHandler{
		mempoolUC: mempoolUC,
		roleGuard: NewRoleGuard(),
	}
}

// SubmitTransactionRequest represents an L2 submission. Hash is optional and
// derived from the content when empty.
type SubmitTransactionRequest struct {
	Hash      string        `json:"hash"`
	Initiator string        `json:"initiator_address" binding:"required"`
	Nonce     uint64        `json:"nonce"`
	Payload   hexutil.Bytes `json:"payload"`
	Fee       domain.Fee    `json:"fee"`
}

// SubmitL1TransactionRequest represents an L1 priority operation
type SubmitL1TransactionRequest struct {
	Hash         string        `json:"hash"`
	Initiator    string        `json:"initiator_address" binding:"required"`
	PriorityOpID *uint64       `json:"priority_op_id" binding:"required"`
	Payload      hexutil.Bytes `json:"payload"`
	Fee          domain.Fee    `json:"fee"`
}

// SealBlockRequest attaches executed transactions to the block in the path
type SealBlockRequest struct {
	Executed        []domain.ExecutedTransaction `json:"executed" binding:"required"`
	Circuits        []domain.Circuit             `json:"circuits"`
	ProtocolVersion int32                        `json:"protocol_version"`
}

// PruneRequest overrides the configured stuck age when MaxAge is set
type PruneRequest struct {
	MaxAge string `json:"max_age"`
}

// TransactionResponse renders the payload as 0x-prefixed hex
type TransactionResponse struct {
	*domain.Transaction
	Payload hexutil.Bytes `json:"payload"`
}

// SubmissionResponse is returned by both submit endpoints
type SubmissionResponse struct {
	Result domain.SubmissionResult `json:"result"`
	ID     string                  `json:"id"`
	Hash   string                  `json:"hash"`
}

func toTransactionResponses(txs []*domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionResponse{Transaction: tx, Payload: tx.Payload})
	}
	return out
}

// SubmitTransaction handles POST /mempool/transactions
func (h *MempoolHandler) SubmitTransaction(c *gin.Context) {
	var req SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xresponse.ValidationError(c, err.Error())
		return
	}

	tx := &domain.Transaction{
		Hash:      req.Hash,
		Initiator: req.Initiator,
		Nonce:     req.Nonce,
		Payload:   req.Payload,
		Fee:       req.Fee,
	}
	result, err := h.mempoolUC.SubmitTransaction(c.Request.Context(), tx)
	if err != nil {
		respondError(c, "submit transaction", err)
		return
	}

	h.roleGuard.LogAccess(c, "submit_transaction", tx.Hash)
	xresponse.Created(c, "Transaction accepted", SubmissionResponse{Result: result, ID: tx.ID, Hash: tx.Hash})
}

// SubmitL1Transaction handles POST /mempool/l1-transactions
func (h *MempoolHandler) SubmitL1Transaction(c *gin.Context) {
	var req SubmitL1TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xresponse.ValidationError(c, err.Error())
		return
	}

	tx := &domain.Transaction{
		Hash:         req.Hash,
		Initiator:    req.Initiator,
		PriorityOpID: req.PriorityOpID,
		Payload:      req.Payload,
		Fee:          req.Fee,
	}
	result, err := h.mempoolUC.SubmitL1Transaction(c.Request.Context(), tx)
	if err != nil {
		respondError(c, "submit l1 transaction", err)
		return
	}

	h.roleGuard.LogAccess(c, "submit_l1_transaction", tx.Hash)
	if result == domain.SubmissionDuplicate {
		xresponse.Success(c, "Priority operation already queued", SubmissionResponse{Result: result, Hash: tx.Hash})
		return
	}
	xresponse.Created(c, "Priority operation accepted", SubmissionResponse{Result: result, ID: tx.ID, Hash: tx.Hash})
}

// ViewTransactions handles GET /mempool/transactions
func (h *MempoolHandler) ViewTransactions(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		respondError(c, "view mempool", err)
		return
	}
	desc, err := boolQuery(c, "desc")
	if err != nil {
		respondError(c, "view mempool", err)
		return
	}

	filter := domain.MempoolFilter{
		Initiator: strings.TrimSpace(c.Query("initiator")),
		Origin:    domain.Origin(strings.ToLower(c.Query("origin"))),
		OrderBy:   domain.MempoolOrder(strings.ToLower(c.Query("order_by"))),
		Desc:      desc,
		Limit:     limit,
	}
	if raw := c.Query("min_fee"); raw != "" {
		if filter.MinFeePerGas, err = uintParam(raw, "min_fee"); err != nil {
			respondError(c, "view mempool", err)
			return
		}
	}

	txs, err := h.mempoolUC.ViewTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "view mempool", err)
		return
	}

	xresponse.Success(c, "Mempool retrieved", gin.H{
		"transactions": toTransactionResponses(txs),
		"count":        len(txs),
	})
}

// GetTransaction handles GET /mempool/transactions/:hash
func (h *MempoolHandler) GetTransaction(c *gin.Context) {
	tx, err := h.mempoolUC.GetTransaction(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondError(c, "get transaction", err)
		return
	}

	xresponse.Success(c, "Transaction retrieved", TransactionResponse{Transaction: tx, Payload: tx.Payload})
}

// QueryEntries handles GET /mempool/entries
func (h *MempoolHandler) QueryEntries(c *gin.Context) {
	filter, err := queryFilter(c)
	if err != nil {
		respondError(c, "query mempool", err)
		return
	}

	txs, err := h.mempoolUC.QueryTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "query mempool", err)
		return
	}

	xresponse.Success(c, "Mempool entries retrieved", gin.H{
		"transactions": toTransactionResponses(txs),
		"count":        len(txs),
	})
}

// SealBlock handles POST /mempool/blocks/:number
func (h *MempoolHandler) SealBlock(c *gin.Context) {
	blockNumber, err := uintParam(c.Param("number"), "block number")
	if err != nil {
		respondError(c, "seal block", err)
		return
	}

	var req SealBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xresponse.ValidationError(c, err.Error())
		return
	}

	err = h.mempoolUC.SealBlock(c.Request.Context(), domain.SealBlockRequest{
		BlockNumber:     blockNumber,
		Executed:        req.Executed,
		Circuits:        req.Circuits,
		ProtocolVersion: req.ProtocolVersion,
	})
	if err != nil {
		respondError(c, "seal block", err)
		return
	}

	h.roleGuard.LogAccess(c, "seal_block", strconv.FormatUint(blockNumber, 10))
	xresponse.Success(c, "Block sealed", gin.H{
		"block_number": blockNumber,
		"attached":     len(req.Executed),
		"jobs":         len(req.Circuits),
	})
}

// PruneStuck handles POST /mempool/prune
func (h *MempoolHandler) PruneStuck(c *gin.Context) {
	var req PruneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			xresponse.ValidationError(c, err.Error())
			return
		}
	}

	var maxAge time.Duration
	if req.MaxAge != "" {
		d, err := time.ParseDuration(req.MaxAge)
		if err != nil || d <= 0 {
			xresponse.BadRequest(c, "max_age must be a positive duration")
			return
		}
		maxAge = d
	}

	removed, err := h.mempoolUC.PruneStuck(c.Request.Context(), maxAge)
	if err != nil {
		respondError(c, "prune mempool", err)
		return
	}

	h.roleGuard.LogAccess(c, "prune_stuck", strconv.FormatInt(removed, 10))
	xresponse.Success(c, "Stuck transactions pruned", gin.H{"removed": removed})
}
