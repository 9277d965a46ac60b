package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/observability"
	"github.com/alfanzaky/zkqueue/pkg/xresponse"
)

// respondError maps queue errors onto HTTP responses
func respondError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		xresponse.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		xresponse.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrConnectivity):
		observability.RecordSystemError(c, "store_unavailable", action, err)
		xresponse.ServiceUnavailable(c, "Queue store unavailable, retry later")
	case errors.Is(err, domain.ErrInvariantViolation):
		observability.RecordSystemError(c, "invariant_violation", action, err)
		xresponse.Error(c, http.StatusInternalServerError, xresponse.ErrCodeInvariantViolation, "Queue invariant violated")
	default:
		logger.Ctx(c.Request.Context()).Error("Request failed",
			logger.String("action", action),
			logger.ErrorField(err),
		)
		xresponse.InternalServerError(c, "Failed to "+action)
	}
}
