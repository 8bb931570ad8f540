package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"insurance-bot/internal/shared/auth"
	"insurance-bot/internal/shared/server/respond"
)

const operatorKey = "operator"

// TokenVerifier validates admin bearer tokens.
type TokenVerifier interface {
	VerifyAdmin(raw string) (*auth.Claims, error)
}

// RequireAdmin rejects requests without a valid admin bearer token.
func RequireAdmin(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		claims, err := v.VerifyAdmin(token)
		if err != nil {
			msg := "missing or invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token has expired"
			}
			respond.Error(c, http.StatusUnauthorized, "unauthorized", msg, nil)
			return
		}
		c.Set(operatorKey, claims.Operator)
		c.Next()
	}
}

// OperatorFromContext returns the operator set by RequireAdmin.
func OperatorFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(operatorKey)
}
