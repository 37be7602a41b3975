package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/config"
	"github.com/stretchr/testify/require"
)

// DefaultJWTConfig returns an auth configuration suitable for tests.
func DefaultJWTConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:            "test-jwt-secret-that-is-32-chars-long",
		TokenLifetimeMinutes: 60,
	}
}

// RequireTestJWTService creates a JWT service with DefaultJWTConfig and
// fails the test if that is not possible.
func RequireTestJWTService(t *testing.T) JWTService {
	t.Helper()
	svc, err := NewJWTService(DefaultJWTConfig())
	require.NoError(t, err, "Failed to create test JWT service")
	return svc
}

// AuthHeaderForTesting returns an Authorization header value carrying a
// valid token for the actor.
func AuthHeaderForTesting(t *testing.T, svc JWTService, actorID uuid.UUID) string {
	t.Helper()
	token, err := svc.GenerateToken(context.Background(), actorID)
	require.NoError(t, err, "Failed to generate auth header")
	return "Bearer " + token
}
