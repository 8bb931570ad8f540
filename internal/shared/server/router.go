package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insurance-bot/internal/admin"
	"insurance-bot/internal/chat"
	"insurance-bot/internal/shared/metrics"
	"insurance-bot/internal/shared/server/middleware"
	"insurance-bot/internal/shared/server/respond"
)

// RouterDeps carries the handlers mounted on the engine.
type RouterDeps struct {
	Chat     *chat.Handler
	Admin    *admin.Handler
	Verifier middleware.TokenVerifier
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
	)

	r.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	if deps.Chat != nil {
		deps.Chat.RegisterRoutes(api)
	}
	if deps.Admin != nil && deps.Verifier != nil {
		deps.Admin.RegisterRoutes(api, deps.Verifier)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
