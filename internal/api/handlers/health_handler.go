package handlers

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/version"
)

// CacheStatus is the slice of the block cache the health check reports on.
type CacheStatus interface {
	Ready() bool
	Len() int
}

// getLocalIP returns the non-loopback local IP of the host
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}

// HealthHandler responds with service metadata for uptime checks. It reports
// 503 until the block cache has been hydrated, since the gate refuses
// traffic until then.
func HealthHandler(cache CacheStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if !cache.Ready() {
			status, code = "starting", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":         status,
			"service":        version.Name,
			"version":        version.Version,
			"git_commit":     version.GitCommit,
			"build_time":     version.BuildTime,
			"internal_ip":    getLocalIP(),
			"blocked_active": cache.Len(),
		})
	}
}
