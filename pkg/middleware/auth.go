package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/impala/hetero/backend/go-services/internal/config"
	"github.com/impala/hetero/backend/go-services/internal/tokens"
)

var ErrRevoked = errors.New("token revoked")

// Verifier checks a raw bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, raw string) (map[string]interface{}, error)
}

// Revocations reports access tokens revoked before expiry.
type Revocations interface {
	Contains(ctx context.Context, token string) (bool, error)
}

// JWTVerifier validates HS256 access tokens and consults an optional
// revocation list.
type JWTVerifier struct {
	cfg     *config.Config
	revoked Revocations
}

func NewJWTVerifier(cfg *config.Config, revoked Revocations) *JWTVerifier {
	return &JWTVerifier{cfg: cfg, revoked: revoked}
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (map[string]interface{}, error) {
	claims, err := tokens.ParseAccessToken(v.cfg, raw)
	if err != nil {
		return nil, err
	}
	if v.revoked != nil {
		bad, err := v.revoked.Contains(ctx, raw)
		if err != nil {
			return nil, err
		}
		if bad {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		claims, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("claims", claims)
		c.Set("access_token", token)
		c.Next()
	}
}

// RequireRole rejects authenticated requests whose role claim is not one of
// roles with 403.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get("claims")
		cm, _ := v.(map[string]interface{})
		role, _ := cm["role"].(string)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}
