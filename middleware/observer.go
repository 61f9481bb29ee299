package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/config"
)

const ObserverClaimsKey = "observer_claims"

// TokenKey is the cache key that keeps an issued observer token alive.
func TokenKey(tokenID string) string { return "observer:" + tokenID }

// IssueToken signs an observer token and registers it in the cache for its
// lifetime.
func IssueToken(ctx context.Context, sec config.SecurityConfig, c cache.Cache, arenaID string) (string, *Claims, error) {
	token, claims, err := GenerateToken(arenaID, sec.JWTSecret, sec.JWTTTL)
	if err != nil {
		return "", nil, err
	}
	if err := c.Set(ctx, TokenKey(claims.ID), arenaID, sec.JWTTTL); err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// RevokeToken invalidates an issued token before it expires.
func RevokeToken(ctx context.Context, c cache.Cache, tokenID string) error {
	return c.Del(ctx, TokenKey(tokenID))
}

// ObserverAuth validates an observer JWT taken from the Bearer header or the
// token query parameter (EventSource cannot set headers) and checks that it
// is still registered in the cache.
func ObserverAuth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ctx.Query("token")
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		}
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, TokenKey(claims.ID))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		}

		ctx.Set(ObserverClaimsKey, claims)
		ctx.Next()
	}
}

// GetObserverClaims retrieves the authenticated observer claims.
func GetObserverClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(ObserverClaimsKey); exists {
		return v.(*Claims)
	}
	return nil
}
