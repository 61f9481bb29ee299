package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

// hits sends n requests from ip and returns the status codes and the last
// response.
func hits(eng *gin.Engine, ip string, n int) ([]int, *httptest.ResponseRecorder) {
	codes := make([]int, n)
	var w *httptest.ResponseRecorder
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/arenas/a1", nil)
		req.Header.Set("X-Real-IP", ip)
		w = httptest.NewRecorder()
		eng.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	return codes, w
}

func limitedRouter(t *testing.T, r rate.Limit, b int) *gin.Engine {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng := gin.New()
	eng.Use(RateLimit(ctx, r, b))
	eng.GET("/api/arenas/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	return eng
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	eng := limitedRouter(t, 0.01, 3)
	codes, last := hits(eng, "10.0.1.1", 4)
	assert.Equal(t, []int{200, 200, 200, 429}, codes)
	assert.Equal(t, "100", last.Header().Get("Retry-After"))
}

func TestRateLimit_RejectionDoesNotConsumeTokens(t *testing.T) {
	eng := limitedRouter(t, 20, 1)
	codes, _ := hits(eng, "10.0.1.2", 3)
	assert.Equal(t, []int{200, 429, 429}, codes)

	time.Sleep(60 * time.Millisecond)
	codes, _ = hits(eng, "10.0.1.2", 1)
	assert.Equal(t, []int{200}, codes, "cancelled reservations return their tokens")
}

func TestRateLimit_PerIP(t *testing.T) {
	eng := limitedRouter(t, 0.01, 1)
	a, _ := hits(eng, "10.1.1.1", 2)
	b, _ := hits(eng, "10.1.1.2", 1)
	assert.Equal(t, []int{200, 429}, a)
	assert.Equal(t, []int{200}, b)
}

func TestRateLimit_ZeroRateDisables(t *testing.T) {
	eng := limitedRouter(t, 0, 0)
	codes, _ := hits(eng, "10.2.0.1", 50)
	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(10*time.Millisecond))
	assert.Equal(t, "3", retryAfter(2100*time.Millisecond))
	assert.Equal(t, "60", retryAfter(rate.InfDuration))
}

func TestSweepLimiters_RemovesIdle(t *testing.T) {
	limiters := &sync.Map{}
	idle := &ipLimiter{}
	idle.lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())
	active := &ipLimiter{}
	active.lastSeen.Store(time.Now().UnixNano())
	limiters.Store("idle", idle)
	limiters.Store("active", active)

	assert.Equal(t, 1, sweepLimiters(limiters, time.Now().Add(-limiterIdleAfter)))
	_, ok := limiters.Load("active")
	assert.True(t, ok)
	_, ok = limiters.Load("idle")
	assert.False(t, ok)
}
