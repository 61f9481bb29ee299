package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery catches handler panics and answers 500 with the trace id. A
// panic with http.ErrAbortHandler (client gone mid-stream) is logged at
// debug and the connection dropped. Once a stream has written its headers
// only the log entry remains.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			fields := []zap.Field{
				zap.String("trace_id", GetTraceID(c)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				log.Debug("client aborted", fields...)
				c.Abort()
				return
			}
			log.Error("panic recovered", append(fields, zap.Any("error", r), zap.Stack("stack"))...)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":    "internal server error",
				"trace_id": GetTraceID(c),
			})
		}()
		c.Next()
	}
}
