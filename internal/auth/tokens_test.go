package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidate(t *testing.T) {
	token, issued, err := IssueToken(testSecret, "ops", ScopeRead, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(context.Background(), token, testSecret, nil)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, issued.ID, claims.ID)
	assert.True(t, claims.Allows(ScopeRead))
	assert.False(t, claims.Allows(ScopeWrite))
}

func TestWriteScopeImpliesRead(t *testing.T) {
	c := &Claims{Scope: ScopeWrite}
	assert.True(t, c.Allows(ScopeRead))
	assert.True(t, c.Allows(ScopeWrite))
}

func TestIssueRejectsBadInput(t *testing.T) {
	_, _, err := IssueToken("short", "ops", ScopeRead, 0)
	assert.Error(t, err)
	_, _, err = IssueToken(testSecret, "ops", "admin", 0)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	ctx := context.Background()

	token, _, err := IssueToken(testSecret, "ops", ScopeRead, time.Hour)
	require.NoError(t, err)
	_, err = ValidateToken(ctx, token, testSecret+"x", nil)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	expired, _, err := IssueToken(testSecret, "ops", ScopeRead, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = ValidateToken(ctx, expired, testSecret, nil)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Scope: ScopeWrite}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateToken(ctx, none, testSecret, nil)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = ValidateToken(ctx, "not.a.token", testSecret, nil)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestRevokeWithRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	token, claims, err := IssueToken(testSecret, "ops", ScopeWrite, time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(ctx, token, testSecret, rdb)
	require.NoError(t, err)

	require.NoError(t, RevokeToken(ctx, rdb, claims))
	_, err = ValidateToken(ctx, token, testSecret, rdb)
	assert.True(t, errors.Is(err, ErrRevoked))
}
