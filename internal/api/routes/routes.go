package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wikid82/warden/internal/api/handlers"
	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/blockcache"
	"github.com/Wikid82/warden/internal/cerberus"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/services"
)

// Deps are the long-lived services the HTTP surface is built on.
type Deps struct {
	Config     config.Config
	Cache      *blockcache.Cache
	Admin      *services.BlockAdmin
	Ledger     *services.EventLedger
	Guard      *services.InputGuard
	Privileges middleware.PrivilegeChecker
	Registry   *prometheus.Registry
}

// Register wires up the middleware chain and API routes. The returned
// function releases background resources owned by the routes.
func Register(router *gin.Engine, d Deps) func() {
	cerb := cerberus.New(d.Config.Security, d.Cache)

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(d.Config.Debug))
	router.Use(cerb.Middleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		IsDevelopment: d.Config.Environment == "development",
	}))

	router.GET("/api/v1/health", handlers.HealthHandler(d.Cache))
	if d.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	rl := d.Config.Security.AdminRateLimit
	limiter := middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst)

	securityHandler := handlers.NewSecurityHandler(d.Admin, d.Ledger, d.Guard)
	security := router.Group("/api/v1/security")
	security.Use(limiter.Middleware())
	security.Use(middleware.AdminAuth(d.Config.JWTSecret, d.Privileges,
		middleware.WithFailureRecorder(handlers.AuthFailureRecorder(d.Ledger))))
	{
		security.GET("/blocks", securityHandler.ListBlocks)
		security.POST("/blocks", securityHandler.AddBlock)
		security.DELETE("/blocks/:ip", securityHandler.RemoveBlock)
		security.GET("/events", securityHandler.QueryEvents)
		security.POST("/events", securityHandler.CreateEvent)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return limiter.Close
}
