package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/metrics"
)

const (
	// TraceIDHeader is the HTTP header for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDContextKey is the gin context key for trace ID
	TraceIDContextKey = "trace_id"
	// RoleContextKey is set by the auth middleware once a token is validated
	RoleContextKey = "user_role"
)

// ObservabilityMiddleware provides trace ID propagation and request metrics
func ObservabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Header(TraceIDHeader, traceID)
		c.Set(TraceIDContextKey, traceID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))

		c.Next()

		// role is only known after the auth middleware ran
		userRole := "anonymous"
		if role, ok := c.Get(RoleContextKey); ok {
			if roleStr, ok := role.(string); ok {
				userRole = roleStr
			}
		}

		duration := time.Since(start)
		statusCode := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		metrics.RecordHTTPRequest(c.Request.Method, endpoint, statusCode, userRole, duration.Seconds())

		logger.Info("Request completed",
			logger.String("trace_id", traceID),
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.String("status", statusCode),
			logger.Duration("duration", duration),
			logger.String("user_role", userRole),
			logger.String("client_ip", c.ClientIP()),
		)
	}
}

// GetTraceID extracts trace ID from the gin context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDContextKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// RecordSystemError records system error with metrics and logging
func RecordSystemError(c *gin.Context, errorType, component string, err error) {
	metrics.RecordSystemError(errorType, component)

	logger.Error("System error occurred",
		logger.String("trace_id", GetTraceID(c)),
		logger.String("error_type", errorType),
		logger.String("component", component),
		logger.ErrorField(err),
		logger.String("method", c.Request.Method),
		logger.String("path", c.Request.URL.Path),
		logger.String("client_ip", c.ClientIP()),
	)
}
