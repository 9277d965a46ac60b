package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/xresponse"
)

// ProverHandler handles HTTP requests for the prover job queue
type ProverHandler struct {
	proverUC     domain.ProverUsecase
	roleGuard    *RoleGuard
	leaseTimeout time.Duration
}

// NewProverHandler creates a new prover handler. leaseTimeout is the default
// used by the reclaim endpoint.
func NewProverHandler(proverUC domain.ProverUsecase, leaseTimeout time.Duration) *ProverHandler {
	return &ProverHandler{
		proverUC:     proverUC,
		roleGuard:    NewRoleGuard(),
		leaseTimeout: leaseTimeout,
	}
}

// EnqueueJobsRequest fans circuits of one batch out as jobs. Round accepts the
// numeric value or the round name and defaults to basic circuits.
type EnqueueJobsRequest struct {
	Circuits        []domain.Circuit `json:"circuits" binding:"required"`
	Round           string           `json:"aggregation_round"`
	ProtocolVersion int32            `json:"protocol_version"`
}

// LeaseJobRequest selects eligible protocol versions and how long to wait
type LeaseJobRequest struct {
	ProtocolVersions []int32 `json:"protocol_versions"`
	Wait             string  `json:"wait"`
}

// CompleteJobRequest reports the outcome of a leased job
type CompleteJobRequest struct {
	Success     *bool  `json:"success" binding:"required"`
	Error       string `json:"error"`
	TimeTakenMs int64  `json:"time_taken_ms"`
}

// ReclaimRequest overrides the default lease timeout and batch size
type ReclaimRequest struct {
	LeaseTimeout string `json:"lease_timeout"`
	MaxCount     int    `json:"max_count"`
}

func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		xresponse.ValidationError(c, err.Error())
		return false
	}
	return true
}

// EnqueueJobs handles POST /prover/batches/:number/jobs
func (h *ProverHandler) EnqueueJobs(c *gin.Context) {
	batchNumber, err := uintParam(c.Param("number"), "batch number")
	if err != nil {
		respondError(c, "enqueue jobs", err)
		return
	}

	var req EnqueueJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xresponse.ValidationError(c, err.Error())
		return
	}

	round := domain.RoundBasicCircuits
	if req.Round != "" {
		if round, err = domain.ParseAggregationRound(req.Round); err != nil {
			respondError(c, "enqueue jobs", err)
			return
		}
	}

	inserted, err := h.proverUC.EnqueueJobs(c.Request.Context(), domain.EnqueueJobsRequest{
		BatchNumber:     batchNumber,
		Circuits:        req.Circuits,
		Round:           round,
		ProtocolVersion: req.ProtocolVersion,
	})
	if err != nil {
		respondError(c, "enqueue jobs", err)
		return
	}

	h.roleGuard.LogAccess(c, "enqueue_jobs", strconv.FormatUint(batchNumber, 10))
	xresponse.Created(c, "Jobs enqueued", gin.H{
		"batch_number":      batchNumber,
		"aggregation_round": round.String(),
		"inserted":          inserted,
	})
}

// LeaseJob handles POST /prover/jobs/lease. No eligible job yields 204.
func (h *ProverHandler) LeaseJob(c *gin.Context) {
	var req LeaseJobRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	var wait time.Duration
	if req.Wait != "" {
		d, err := time.ParseDuration(req.Wait)
		if err != nil || d < 0 {
			xresponse.BadRequest(c, "wait must be a non-negative duration")
			return
		}
		wait = d
	}

	job, err := h.proverUC.LeaseJob(c.Request.Context(), req.ProtocolVersions, wait)
	if err != nil {
		respondError(c, "lease job", err)
		return
	}
	if job == nil {
		xresponse.NoContent(c)
		return
	}

	h.roleGuard.LogAccess(c, "lease_job", job.ID)
	xresponse.Success(c, "Job leased", job)
}

// CompleteJob handles POST /prover/jobs/:id/complete
func (h *ProverHandler) CompleteJob(c *gin.Context) {
	var req CompleteJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xresponse.ValidationError(c, err.Error())
		return
	}
	if req.TimeTakenMs < 0 {
		xresponse.BadRequest(c, "time_taken_ms must not be negative")
		return
	}

	id := c.Param("id")
	outcome := domain.JobOutcome{
		Success:   *req.Success,
		Error:     req.Error,
		TimeTaken: time.Duration(req.TimeTakenMs) * time.Millisecond,
	}
	if err := h.proverUC.CompleteJob(c.Request.Context(), id, outcome); err != nil {
		respondError(c, "complete job", err)
		return
	}

	h.roleGuard.LogAccess(c, "complete_job", id)
	xresponse.Success(c, "Job completed", gin.H{"id": id, "success": outcome.Success})
}

// ReclaimStuck handles POST /prover/jobs/reclaim
func (h *ProverHandler) ReclaimStuck(c *gin.Context) {
	var req ReclaimRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	timeout := h.leaseTimeout
	if req.LeaseTimeout != "" {
		d, err := time.ParseDuration(req.LeaseTimeout)
		if err != nil || d < 0 {
			xresponse.BadRequest(c, "lease_timeout must be a non-negative duration")
			return
		}
		timeout = d
	}

	ids, err := h.proverUC.ReclaimStuck(c.Request.Context(), timeout, req.MaxCount)
	if err != nil {
		respondError(c, "reclaim jobs", err)
		return
	}

	h.roleGuard.LogAccess(c, "reclaim_stuck", strconv.Itoa(len(ids)))
	xresponse.Success(c, "Stuck jobs reclaimed", gin.H{"reclaimed": ids, "count": len(ids)})
}

// QueryJobs handles GET /prover/jobs
func (h *ProverHandler) QueryJobs(c *gin.Context) {
	base, err := queryFilter(c)
	if err != nil {
		respondError(c, "query jobs", err)
		return
	}

	filter := domain.ProverJobFilter{QueryFilter: base}
	if raw := c.Query("round"); raw != "" {
		round, err := domain.ParseAggregationRound(raw)
		if err != nil {
			respondError(c, "query jobs", err)
			return
		}
		filter.Round = &round
	}

	jobs, err := h.proverUC.QueryJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "query jobs", err)
		return
	}

	xresponse.Success(c, "Jobs retrieved", gin.H{"jobs": jobs, "count": len(jobs)})
}

// GetJob handles GET /prover/jobs/:id
func (h *ProverHandler) GetJob(c *gin.Context) {
	job, err := h.proverUC.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get job", err)
		return
	}

	xresponse.Success(c, "Job retrieved", job)
}
