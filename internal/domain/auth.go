package domain

import (
	"strings"
	"time"
)

const (
	RoleAdmin     = "ADMIN"
	RoleSequencer = "SEQUENCER"
	RoleProver    = "PROVER"
)

// AuthClaims represents validated JWT claims
type AuthClaims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsValidRole checks if the role is known
func IsValidRole(role string) bool {
	switch strings.ToUpper(role) {
	case RoleAdmin, RoleSequencer, RoleProver:
		return true
	}
	return false
}

// AuthService issues and validates bearer tokens for queue clients
type AuthService interface {
	GenerateToken(subject, role string) (string, error)
	ValidateToken(token string) (*AuthClaims, error)
}
