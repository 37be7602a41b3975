package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenTypeAccess marks tokens accepted by the API.
const TokenTypeAccess = "access"

// JWTService issues and verifies the bearer tokens that identify actors.
// Learners and mentors are both actors; their role is decided per assignment.
type JWTService interface {
	// GenerateToken creates a signed access token for the actor using the
	// configured lifetime.
	GenerateToken(ctx context.Context, actorID uuid.UUID) (string, error)

	// GenerateTokenWithLifetime creates a signed access token that expires
	// after lifetime.
	GenerateTokenWithLifetime(ctx context.Context, actorID uuid.UUID, lifetime time.Duration) (string, error)

	// ValidateToken verifies the signature, lifetime and type of the token
	// and returns its claims.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the verified contents of an access token.
type Claims struct {
	// ActorID is the user the token was issued for. It equals Subject.
	ActorID   uuid.UUID `json:"actor_id"`
	TokenType string    `json:"type,omitempty"`
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
