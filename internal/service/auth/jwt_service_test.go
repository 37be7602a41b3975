package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, secret string, at time.Time) *hmacJWTService {
	t.Helper()
	svc, err := newHMACService(config.AuthConfig{JWTSecret: secret, TokenLifetimeMinutes: 60},
		func() time.Time { return at })
	require.NoError(t, err)
	return svc
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()
	secret := "test-secret-that-is-long-enough-for-testing"
	actorID := uuid.New()
	svc := newTestService(t, secret, fixedTime)

	token, err := svc.GenerateToken(context.Background(), actorID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, actorID, claims.ActorID)
	assert.Equal(t, actorID.String(), claims.Subject)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), uuid.Nil)
	assert.Error(t, err)
	_, err = svc.GenerateTokenWithLifetime(context.Background(), actorID, 0)
	assert.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()
	secret := "test-secret-that-is-long-enough-for-testing"
	wrongSecret := "wrong-secret-that-is-long-enough-for-testing"
	actorID := uuid.New()

	sign := func(claims jwt.Claims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name    string
		setup   func() (JWTService, string)
		wantErr error
	}{
		{
			name: "valid token",
			setup: func() (JWTService, string) {
				svc := newTestService(t, secret, fixedTime)
				token, _ := svc.GenerateToken(context.Background(), actorID)
				return svc, token
			},
		},
		{
			name: "within clock skew",
			setup: func() (JWTService, string) {
				token, _ := newTestService(t, secret, fixedTime).GenerateToken(context.Background(), actorID)
				return newTestService(t, secret, fixedTime.Add(time.Hour+time.Minute)), token
			},
		},
		{
			name: "expired token",
			setup: func() (JWTService, string) {
				token, _ := newTestService(t, secret, fixedTime).GenerateToken(context.Background(), actorID)
				return newTestService(t, secret, fixedTime.Add(2*time.Hour)), token
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "issued in the future",
			setup: func() (JWTService, string) {
				token, _ := newTestService(t, secret, fixedTime.Add(time.Hour)).GenerateToken(context.Background(), actorID)
				return newTestService(t, secret, fixedTime), token
			},
			wantErr: ErrTokenNotYetValid,
		},
		{
			name: "invalid signature",
			setup: func() (JWTService, string) {
				token, _ := newTestService(t, secret, fixedTime).GenerateToken(context.Background(), actorID)
				return newTestService(t, wrongSecret, fixedTime), token
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "malformed token",
			setup: func() (JWTService, string) {
				return newTestService(t, secret, fixedTime), "this.is.not.a.valid.jwt.token"
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "empty token",
			setup: func() (JWTService, string) {
				return newTestService(t, secret, fixedTime), ""
			},
			wantErr: ErrMissingToken,
		},
		{
			name: "wrong token type",
			setup: func() (JWTService, string) {
				return newTestService(t, secret, fixedTime), sign(jwtCustomClaims{
					TokenType: "refresh",
					RegisteredClaims: jwt.RegisteredClaims{
						Subject:   actorID.String(),
						ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
					},
				}, secret)
			},
			wantErr: ErrWrongTokenType,
		},
		{
			name: "subject is not a uuid",
			setup: func() (JWTService, string) {
				return newTestService(t, secret, fixedTime), sign(jwtCustomClaims{
					TokenType: TokenTypeAccess,
					RegisteredClaims: jwt.RegisteredClaims{
						Subject:   "alice",
						ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
					},
				}, secret)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "unsigned token",
			setup: func() (JWTService, string) {
				token := jwt.NewWithClaims(jwt.SigningMethodNone, jwtCustomClaims{
					TokenType:        TokenTypeAccess,
					RegisteredClaims: jwt.RegisteredClaims{Subject: actorID.String()},
				})
				s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return newTestService(t, secret, fixedTime), s
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, token := tc.setup()
			claims, err := svc.ValidateToken(context.Background(), token)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, actorID, claims.ActorID)
		})
	}
}

func TestNewJWTServiceValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short", TokenLifetimeMinutes: 60})
	assert.ErrorContains(t, err, "at least 32")

	_, err = NewJWTService(config.AuthConfig{JWTSecret: strings.Repeat("k", 32)})
	assert.ErrorContains(t, err, "lifetime")

	svc, err := newHMACService(config.AuthConfig{
		JWTSecret:            strings.Repeat("k", 32),
		TokenLifetimeMinutes: 5,
		ClockSkewSeconds:     10,
	}, time.Now)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, svc.clockSkew)
	assert.Equal(t, 5*time.Minute, svc.tokenLifetime)
}
