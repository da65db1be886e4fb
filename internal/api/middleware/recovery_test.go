package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Wikid82/warden/internal/logger"
)

func panicRouter(verbose bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(verbose))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestRecovery_Verbose(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(false, buf)

	req := httptest.NewRequest(http.MethodGet, "/panic?token=abc", nil)
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	panicRouter(true).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())

	out := buf.String()
	assert.Contains(t, out, "panic recovered")
	assert.Contains(t, out, `"panic":"boom"`)
	assert.Contains(t, out, `"stack"`)
	assert.Contains(t, out, "request_id")
	assert.Contains(t, out, "<redacted>")
	assert.NotContains(t, out, "secret-key")
	assert.NotContains(t, out, "secret-token")
	assert.NotContains(t, out, "token=abc", "query strings are dropped from logged paths")
}

func TestRecovery_Brief(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(false, buf)

	w := httptest.NewRecorder()
	panicRouter(false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	out := buf.String()
	assert.Contains(t, out, "panic recovered")
	assert.NotContains(t, out, `"stack"`)
	assert.NotContains(t, out, "headers")
}
