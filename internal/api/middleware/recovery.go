package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Recovery turns a panic into a 500. When verbose is true it also logs the
// stack and the sanitized request metadata.
func Recovery(verbose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			entry := GetRequestLogger(c).WithFields(logrus.Fields{
				"panic": r,
				"path":  SanitizePath(c.Request.URL.Path),
			})
			if verbose {
				entry.WithFields(logrus.Fields{
					"method":  c.Request.Method,
					"headers": SanitizeHeaders(c.Request.Header),
					"stack":   string(debug.Stack()),
				}).Error("panic recovered")
			} else {
				entry.Error("panic recovered")
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}()
		c.Next()
	}
}
