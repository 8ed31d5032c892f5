package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 carrying the INTERNAL error kind.
// A panic after the response started only gets logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "handler panicked",
				"panic", rec,
				"route", c.FullPath(),
				"tenant", GetTenant(c),
				"response_started", c.Writer.Written(),
				"stack", string(debug.Stack()),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.Header(HeaderErrorKind, "INTERNAL")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "Internal server error",
				"kind":       "INTERNAL",
				"request_id": GetRequestID(c),
			})
		}()

		c.Next()
	}
}
