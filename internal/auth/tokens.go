// Package auth issues and validates the bearer tokens that guard the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const issuer = "mail-archive-search"

// Token scopes. Write covers imports and corpus resets.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevoked      = errors.New("token revoked")
	ErrScope        = errors.New("token scope does not allow this operation")
)

type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant scope. Write implies read.
func (c *Claims) Allows(scope string) bool {
	return c.Scope == scope || c.Scope == ScopeWrite
}

// IssueToken signs an HS256 token for subject. A zero ttl never expires.
func IssueToken(secret, subject, scope string, ttl time.Duration) (string, *Claims, error) {
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("API_TOKEN_SECRET must be at least 32 characters")
	}
	switch scope {
	case ScopeRead, ScopeWrite:
	default:
		return "", nil, fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ValidateToken parses tokenString and, when rdb is set, rejects revoked
// tokens. A Redis failure does not reject the token.
func ValidateToken(ctx context.Context, tokenString, secret string, rdb *redis.Client) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if rdb != nil {
		exists, err := rdb.Exists(ctx, revokedKey(claims.ID)).Result()
		if err == nil && exists == 1 {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

// RevokeToken blocks a token id until it would have expired, or for a year
// when it has no expiry.
func RevokeToken(ctx context.Context, rdb *redis.Client, claims *Claims) error {
	ttl := 365 * 24 * time.Hour
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
		if ttl <= 0 {
			return nil
		}
	}
	return rdb.Set(ctx, revokedKey(claims.ID), claims.Subject, ttl).Err()
}

func revokedKey(jti string) string {
	return "revoked:" + jti
}
