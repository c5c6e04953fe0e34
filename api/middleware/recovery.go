package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/chapterdl/pkg/logger"
)

// Recovery turns a handler panic into a 500 carrying the request id
func Recovery(ml *logger.MultiLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			id := RequestID(c)
			ml.LogAppError("Handler panic",
				zap.String("request_id", id),
				zap.Any("panic", r),
				zap.String("route", c.FullPath()),
				zap.Stack("stack"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal server error",
				"request_id": id,
			})
		}()
		c.Next()
	}
}
