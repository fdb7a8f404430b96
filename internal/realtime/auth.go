package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Handshake rejection reasons surfaced to clients.
const (
	ReasonNoToken     = "no-token"
	ReasonRevoked     = "revoked"
	ReasonInvalid     = "invalid"
	ReasonRateLimited = "rate-limited"
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID string
}

// Authenticator validates bearer credentials presented at connection time.
// The attempt limiter runs before any credential check, so exceeding the
// budget rejects even a valid token.
type Authenticator struct {
	secret  []byte
	revoked RevocationStore
	limiter *AttemptLimiter
}

func NewAuthenticator(secret string, revoked RevocationStore, limiter *AttemptLimiter) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if revoked == nil {
		return nil, fmt.Errorf("revocation store is required")
	}

	return &Authenticator{
		secret:  []byte(secret),
		revoked: revoked,
		limiter: limiter,
	}, nil
}

// Authenticate rate-limits the connection attempt by client address, then
// verifies the credential.
func (a *Authenticator) Authenticate(ctx context.Context, token string, clientAddr string) (*Identity, error) {
	if a.limiter != nil && !a.limiter.Allow(clientAddr) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, ReasonRateLimited)
	}
	return a.Verify(ctx, token)
}

// Verify validates the credential alone, without spending attempt budget.
// Used by the per-request auth middleware.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthenticated, ReasonNoToken)
	}

	revoked, err := a.revoked.IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthenticated, ReasonRevoked)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthenticated, ReasonInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthenticated, ReasonInvalid)
	}

	return &Identity{UserID: claims.Subject}, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	return a.secret, nil
}

// IssueToken mints a short-lived HMAC credential for the user. Kept next to
// Verify so signing and verification cannot drift.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
