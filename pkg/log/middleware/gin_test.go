package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"moff.io/walletconnect-sign/pkg/log/meta"
)

type fixedLimiter struct {
	allowed bool
	err     error
}

func (l fixedLimiter) Allow(context.Context, string) (bool, error) {
	return l.allowed, l.err
}

func newRouter(limiter Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveredHTTPLog(), RateLimitHTTP(limiter))
	r.GET("/trace", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, map[string]interface{}{"trace": meta.TraceID(ctx.Request.Context())})
	})
	r.GET("/panic", func(ctx *gin.Context) {
		panic("boom")
	})
	return r
}

func TestRecoveredHTTPLogPropagatesRequestID(t *testing.T) {
	r := newRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("X-Request-Id", "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"trace":"req-7"`)
	assert.Equal(t, "req-7", w.Header().Get("x-request-id"))
}

func TestRecoveredHTTPLogWritesInternalErrorOnPanic(t *testing.T) {
	t.Setenv("DEBUG", "1")
	r := newRouter(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimitHTTP(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(fixedLimiter{allowed: false}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/trace", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	newRouter(fixedLimiter{err: assert.AnError}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/trace", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
