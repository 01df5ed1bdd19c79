package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"picbed/api/internal/apperr"
	"picbed/api/internal/security"
	"picbed/api/internal/service"
)

const (
	tokenTypeHeader = "X-Token-Type"

	// ClaimsKey is the gin context key holding the verified token claims.
	ClaimsKey = "token_claims"
)

// Auth guards protected routes: a bearer access token must be valid, still
// present in the registry, and belong to a live access key. The optional
// X-Token-Type header, when sent, must say "access"; refresh tokens never
// authorize a protected route.
func Auth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abortWithError(c, apperr.New(apperr.KindUnauthorized, "missing_token", "authorization required"))
			return
		}

		if tokenType := c.GetHeader(tokenTypeHeader); tokenType != "" && tokenType != security.TokenTypeAccess {
			abortWithError(c, apperr.New(apperr.KindUnauthorized, "invalid_token_type", "access token required"))
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := auth.VerifyAccess(c.Request.Context(), tokenStr)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ClaimsKey, *claims)
		c.Next()
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
		"error":   apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}
