package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/internal/domain"
	authpkg "github.com/alfanzaky/zkqueue/pkg/auth"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/observability"
	"github.com/alfanzaky/zkqueue/pkg/xresponse"
)

// Handlers groups everything SetupRoutes mounts
type Handlers struct {
	Mempool     *MempoolHandler
	Prover      *ProverHandler
	Auth        *AuthHandler
	Metrics     *observability.MetricsHandler
	AuthService domain.AuthService
}

// NewRouter builds a gin engine with the shared middleware chain and all routes
func NewRouter(h Handlers, maxRequestSize int64) *gin.Engine {
	router := gin.New()
	router.Use(observability.ObservabilityMiddleware())
	router.Use(recoveryMiddleware())
	router.Use(corsMiddleware())
	if maxRequestSize > 0 {
		router.Use(bodyLimitMiddleware(maxRequestSize))
	}

	SetupRoutes(router, h)
	return router
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, h Handlers) {
	if h.Metrics != nil {
		router.GET("/metrics", h.Metrics.MetricsEndpoint())
		router.GET("/health", h.Metrics.HealthEndpoint())
		router.GET("/ready", h.Metrics.ReadinessEndpoint())
		router.GET("/live", h.Metrics.LivenessEndpoint())
	}

	guard := NewRoleGuard()
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.AuthService))
	{
		configureMempoolRoutes(v1, h.Mempool, guard)
		configureProverRoutes(v1, h.Prover, guard)
		v1.GET("/stats", statsHandler(h.Mempool, h.Prover))
		v1.POST("/auth/token", guard.RequireRoles(domain.RoleAdmin), h.Auth.IssueToken)
	}

	logger.Info("API routes configured successfully")
}

func configureMempoolRoutes(group *gin.RouterGroup, h *MempoolHandler, guard *RoleGuard) {
	writers := guard.RequireRoles(domain.RoleSequencer, domain.RoleAdmin)

	mempool := group.Group("/mempool")
	{
		mempool.POST("/transactions", writers, h.SubmitTransaction)
		mempool.POST("/l1-transactions", writers, h.SubmitL1Transaction)
		mempool.GET("/transactions", h.ViewTransactions)
		mempool.GET("/transactions/:hash", h.GetTransaction)
		mempool.GET("/entries", h.QueryEntries)
		mempool.POST("/blocks/:number", writers, h.SealBlock)
		mempool.POST("/prune", guard.RequireRoles(domain.RoleAdmin), h.PruneStuck)
	}
}

func configureProverRoutes(group *gin.RouterGroup, h *ProverHandler, guard *RoleGuard) {
	admin := guard.RequireRoles(domain.RoleAdmin)
	workers := guard.RequireRoles(domain.RoleProver, domain.RoleAdmin)

	prover := group.Group("/prover")
	{
		prover.POST("/batches/:number/jobs", admin, h.EnqueueJobs)
		prover.POST("/jobs/lease", workers, h.LeaseJob)
		prover.POST("/jobs/reclaim", admin, h.ReclaimStuck)
		prover.POST("/jobs/:id/complete", workers, h.CompleteJob)
		prover.GET("/jobs", h.QueryJobs)
		prover.GET("/jobs/:id", h.GetJob)
	}
}

func statsHandler(mempool *MempoolHandler, prover *ProverHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		mempoolStats, err := mempool.mempoolUC.Stats(ctx)
		if err != nil {
			respondError(c, "load mempool stats", err)
			return
		}
		proverStats, err := prover.proverUC.Stats(ctx)
		if err != nil {
			respondError(c, "load prover stats", err)
			return
		}

		xresponse.Success(c, "Queue statistics retrieved", []*domain.QueueStats{mempoolStats, proverStats})
	}
}

// authMiddleware validates the bearer token and sets client context
func authMiddleware(authService domain.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			xresponse.InternalServerError(c, "Auth service not available")
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			xresponse.Unauthorized(c, "Authorization header with Bearer token required")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			xresponse.Unauthorized(c, "Token is empty")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			switch {
			case errors.Is(err, authpkg.ErrExpiredToken):
				xresponse.Unauthorized(c, "Token expired")
			case errors.Is(err, authpkg.ErrInvalidToken), errors.Is(err, authpkg.ErrInvalidRole):
				xresponse.Unauthorized(c, "Invalid token")
			default:
				xresponse.InternalServerError(c, "Failed to validate token")
			}
			c.Abort()
			return
		}

		c.Set(subjectContextKey, claims.Subject)
		c.Set(observability.RoleContextKey, claims.Role)

		logger.Debug("Client authenticated via middleware",
			logger.String("subject", claims.Subject),
			logger.String("role", claims.Role),
			logger.Duration("token_ttl", time.Until(claims.ExpiresAt)),
		)

		c.Next()
	}
}

// bodyLimitMiddleware caps request bodies
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			xresponse.ErrorWithDetails(c, http.StatusRequestEntityTooLarge, xresponse.ErrCodeValidationFailed, "Request body too large", gin.H{"limit": limit})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+observability.TraceIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// recoveryMiddleware handles panics
func recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Ctx(c.Request.Context()).Error("Panic recovered",
			logger.String("error", fmt.Sprintf("%v", recovered)),
			logger.String("path", c.Request.URL.Path),
			logger.String("method", c.Request.Method),
		)

		xresponse.InternalServerError(c, "Internal server error")
		c.Abort()
	})
}
