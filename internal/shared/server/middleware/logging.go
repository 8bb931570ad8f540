package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"insurance-bot/internal/shared/telemetry"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
		}
		if op := OperatorFromContext(c); op != "" {
			fields["operator"] = op
		}
		if chatID := c.Param("chatId"); chatID != "" {
			fields["chat_id"] = chatID
		}
		if flowErr := c.GetString("flowError"); flowErr != "" {
			fields["flow_error"] = flowErr
			telemetry.Warn("request.complete", fields)
			return
		}
		telemetry.Info("request.complete", fields)
	}
}
