package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serveWithHeaders(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"frame options", "X-Frame-Options", "DENY"},
		{"content type options", "X-Content-Type-Options", "nosniff"},
		{"referrer policy", "Referrer-Policy", "no-referrer"},
		{"resource policy", "Cross-Origin-Resource-Policy", "same-origin"},
		{"no caching", "Cache-Control", "no-store"},
		{"hsts", "Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	}

	resp := serveWithHeaders(DefaultSecurityHeadersConfig())
	assert.Equal(t, http.StatusOK, resp.Code)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resp.Header().Get(tt.header))
		})
	}

	csp := resp.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'none'")
	assert.Contains(t, csp, "frame-ancestors 'none'")
}

func TestSecurityHeaders_DevelopmentSkipsHSTS(t *testing.T) {
	resp := serveWithHeaders(SecurityHeadersConfig{IsDevelopment: true})
	assert.Empty(t, resp.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
}

func TestSanitizeHeadersAndPath(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("X-Api-Key", "k")
	h.Set("X-Forwarded-For", "203.0.113.5")
	h.Set("User-Agent", "curl\r\n/8.0")

	out := SanitizeHeaders(h)
	assert.Equal(t, []string{"<redacted>"}, out["Authorization"])
	assert.Equal(t, []string{"<redacted>"}, out["X-Api-Key"])
	assert.Equal(t, []string{"<redacted>"}, out["X-Forwarded-For"])
	assert.NotContains(t, out["User-Agent"][0], "\n")
	assert.Nil(t, SanitizeHeaders(nil))

	assert.Equal(t, "/api/v1/security/events", SanitizePath("/api/v1/security/events?risk_level=HIGH"))
	long := SanitizePath("/" + string(make([]byte, 500)))
	assert.LessOrEqual(t, len(long), maxLoggedValue)
}
