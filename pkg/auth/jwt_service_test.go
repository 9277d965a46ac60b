package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfanzaky/zkqueue/config"
	"github.com/alfanzaky/zkqueue/internal/domain"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:   "secret",
		Issuer:         "zkqueue",
		Audience:       "zkqueue-clients",
		AccessTokenTTL: time.Hour,
	}
}

func TestJWTAuthService_RoundTrip(t *testing.T) {
	svc := NewJWTAuthService(testConfig())

	token, err := svc.GenerateToken("prover-7", "prover")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "prover-7", claims.Subject)
	assert.Equal(t, domain.RoleProver, claims.Role)
	assert.WithinDuration(t, claims.IssuedAt.Add(time.Hour), claims.ExpiresAt, time.Second)
}

func TestJWTAuthService_Rejects(t *testing.T) {
	svc := NewJWTAuthService(testConfig())

	_, err := svc.GenerateToken("", domain.RoleAdmin)
	require.Error(t, err)

	_, err = svc.GenerateToken("someone", "RESELLER")
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.ValidateToken("")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := testConfig()
	other.AccessSecret = "different"
	token, err := NewJWTAuthService(other).GenerateToken("sequencer", domain.RoleSequencer)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAuthService_Expired(t *testing.T) {
	svc := NewJWTAuthService(testConfig())
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := svc.GenerateToken("sequencer", domain.RoleSequencer)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}
