package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/internal/domain"
	authpkg "github.com/alfanzaky/zkqueue/pkg/auth"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/xresponse"
)

// AuthHandler issues bearer tokens for sequencers and provers
type AuthHandler struct {
	authService domain.AuthService
	roleGuard   *RoleGuard
}

func NewAuthHandler(authService domain.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService, roleGuard: NewRoleGuard()}
}

type issueTokenRequest struct {
	Subject string `json:"subject" binding:"required"`
	Role    string `json:"role" binding:"required"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xresponse.BadRequest(c, "Invalid payload: "+err.Error())
		return
	}

	token, err := h.authService.GenerateToken(req.Subject, req.Role)
	if err != nil {
		if errors.Is(err, authpkg.ErrInvalidRole) {
			xresponse.BadRequest(c, err.Error())
			return
		}
		logger.Error("Failed to generate token", logger.ErrorField(err))
		xresponse.InternalServerError(c, "Failed to generate token")
		return
	}

	h.roleGuard.LogAccess(c, "issue_token", req.Subject)
	xresponse.Created(c, "Token issued", gin.H{
		"token":   token,
		"subject": req.Subject,
	})
}
