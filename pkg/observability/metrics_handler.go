package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfanzaky/zkqueue/pkg/metrics"
)

// ReadinessCheck reports whether one dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// MetricsHandler provides the Prometheus endpoint and health probes
type MetricsHandler struct {
	registry *prometheus.Registry
	service  string
	checks   map[string]ReadinessCheck
	timeout  time.Duration
}

// NewMetricsHandler creates a new metrics handler. Readiness runs every
// check; one failing dependency makes the service not ready.
func NewMetricsHandler(service string, checks map[string]ReadinessCheck) *MetricsHandler {
	return &MetricsHandler{
		registry: metrics.Registry,
		service:  service,
		checks:   checks,
		timeout:  2 * time.Second,
	}
}

// MetricsEndpoint returns the Prometheus metrics handler
func (h *MetricsHandler) MetricsEndpoint() gin.HandlerFunc {
	handler := promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})

	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// HealthEndpoint provides a basic health check
func (h *MetricsHandler) HealthEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   h.service,
			"timestamp": time.Now().Unix(),
		})
	}
}

// ReadinessEndpoint checks the store and optional dependencies
func (h *MetricsHandler) ReadinessEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		c.JSON(status, gin.H{
			"status": state,
			"checks": results,
		})
	}
}

// LivenessEndpoint provides liveness check
func (h *MetricsHandler) LivenessEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
		})
	}
}
