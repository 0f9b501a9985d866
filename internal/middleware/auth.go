package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatsync/internal/auth"
)

const userIDContextKey = "userID"

// Error codes carried in 401 bodies so clients can tell an expired token
// from a bad one.
const (
	CodeTokenExpired = "token_expired"
	CodeInvalidToken = "invalid_token"
)

func UserIDFromContext(c *gin.Context) (int64, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	value, ok := userID.(int64)
	return value, ok && value > 0
}

// Unauthorized writes the 401 body for a token verification error.
func Unauthorized(c *gin.Context, err error) {
	if errors.Is(err, auth.ErrTokenExpired) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired", "code": CodeTokenExpired})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token", "code": CodeInvalidToken})
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			Unauthorized(c, nil)
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			Unauthorized(c, err)
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Next()
	}
}
