package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/cerberus"
)

// RequestLogger logs one line per request with the request_id, the address
// the gate resolved and the acting admin when there is one.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  cerberus.GetClientIP(c),
		}
		if actor := GetActor(c); actor != "" {
			fields["actor"] = actor
		}
		GetRequestLogger(c).WithFields(fields).Info("handled request")
	}
}
