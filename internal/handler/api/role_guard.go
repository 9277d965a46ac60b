package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/observability"
	"github.com/alfanzaky/zkqueue/pkg/xresponse"
)

const subjectContextKey = "client_subject"

// RoleGuard provides helper functions for role-based access control in handlers
type RoleGuard struct{}

// NewRoleGuard creates a new role guard instance
func NewRoleGuard() *RoleGuard {
	return &RoleGuard{}
}

// GetCurrentClient extracts the authenticated client from context
func (rg *RoleGuard) GetCurrentClient(c *gin.Context) (subject, role string, exists bool) {
	subject = c.GetString(subjectContextKey)
	role = c.GetString(observability.RoleContextKey)
	if subject == "" || role == "" {
		return "", "", false
	}
	return subject, role, true
}

// RequireRoles lets the request through when the client holds any of roles
func (rg *RoleGuard) RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, exists := rg.GetCurrentClient(c)
		if !exists {
			logger.Warn("Access denied - client not authenticated",
				logger.Strings("required_roles", roles),
				logger.String("ip", c.ClientIP()),
			)
			xresponse.Unauthorized(c, "Authentication required")
			c.Abort()
			return
		}

		for _, allowed := range roles {
			if strings.EqualFold(role, allowed) {
				c.Next()
				return
			}
		}

		logger.Warn("Access denied - insufficient role",
			logger.String("client_role", role),
			logger.Strings("required_roles", roles),
			logger.String("ip", c.ClientIP()),
		)
		xresponse.Forbidden(c, "Insufficient permissions")
		c.Abort()
	}
}

// LogAccess logs a queue mutation with client information
func (rg *RoleGuard) LogAccess(c *gin.Context, action, resource string) {
	subject, role, exists := rg.GetCurrentClient(c)
	if !exists {
		return
	}
	logger.Ctx(c.Request.Context()).Info("Client action",
		logger.String("subject", subject),
		logger.String("role", role),
		logger.String("action", action),
		logger.String("resource", resource),
		logger.String("ip", c.ClientIP()),
	)
}
