package middleware

import (
	"errors"
	"strings"

	"mail-archive-search/internal/auth"
	"mail-archive-search/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const claimsKey = "claims"

// AuthMiddleware checks bearer tokens. With an empty secret every request is
// let through.
type AuthMiddleware struct {
	secret string
	rdb    *redis.Client
}

func NewAuthMiddleware(secret string, rdb *redis.Client) *AuthMiddleware {
	return &AuthMiddleware{
		secret: secret,
		rdb:    rdb,
	}
}

func (a *AuthMiddleware) Enabled() bool { return a.secret != "" }

// RequireScope rejects requests without a valid token granting scope.
func (a *AuthMiddleware) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		tokenString := extractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(c.Request.Context(), tokenString, a.secret, a.rdb)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, auth.ErrRevoked) {
				msg = "Token has been revoked"
			}
			utils.RespondWithUnauthorized(c, msg)
			c.Abort()
			return
		}

		if !claims.Allows(scope) {
			utils.RespondWithForbidden(c, auth.ErrScope.Error())
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetClaims returns the validated token claims, or nil when auth is off.
func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

func extractBearer(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
