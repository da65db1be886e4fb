// Package cerberus is the per-request block gate. It answers from the
// in-memory block cache only and never touches the database.
package cerberus

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/util"
)

// ClientIPKey is the gin context key holding the resolved caller address.
const ClientIPKey = "client_ip"

// Lookup is the read side of the block cache.
type Lookup interface {
	IsBlocked(ip string) bool
	Ready() bool
}

// Cerberus guards every request against the block list.
type Cerberus struct {
	cfg     config.SecurityConfig
	cache   Lookup
	proxies *TrustedProxies
}

// New creates a new Cerberus instance. With no trusted proxies configured
// every peer's forwarded-address headers are believed, which it warns about.
func New(cfg config.SecurityConfig, cache Lookup) *Cerberus {
	c := &Cerberus{
		cfg:     cfg,
		cache:   cache,
		proxies: NewTrustedProxies(cfg.TrustedProxies),
	}
	if !cfg.GateDisabled && !c.proxies.Configured() {
		logger.Log().Warn("security.trusted_proxies is empty: forwarded-address headers from any peer decide the client address; set it when running behind a proxy")
	}
	return c
}

// IsEnabled reports whether the gate enforces anything. It is off only when
// configuration disables it outright.
func (c *Cerberus) IsEnabled() bool {
	return !c.cfg.GateDisabled
}

// ClientIP resolves the caller address for r with this gate's proxy list.
func (c *Cerberus) ClientIP(r *http.Request) string {
	return ClientIP(r, c.proxies)
}

// Middleware returns a Gin middleware that rejects blocked callers.
func (c *Cerberus) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ip := c.ClientIP(ctx.Request)
		ctx.Set(ClientIPKey, ip)

		if !c.IsEnabled() {
			ctx.Next()
			return
		}

		// Refuse traffic until startup hydration has filled the cache.
		if !c.cache.Ready() {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service starting"})
			return
		}

		metrics.IncGateRequest()
		if c.cache.IsBlocked(ip) {
			metrics.IncGateBlocked()
			logger.Log().WithFields(logrus.Fields{
				"source":   "cerberus",
				"decision": "block",
				"ip":       ip,
				"path":     util.SanitizeForLog(ctx.Request.URL.Path),
			}).Info("blocked address rejected")
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}

		ctx.Next()
	}
}

// GetClientIP returns the address Middleware resolved, or resolves it now
// for handlers mounted outside the gate.
func GetClientIP(ctx *gin.Context) string {
	if v, ok := ctx.Get(ClientIPKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ClientIP(ctx.Request, nil)
}
