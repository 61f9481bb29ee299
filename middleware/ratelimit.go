package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimit provides per-IP token-bucket rate limiting with r requests per
// second and burst b. Rejected requests get 429 with a Retry-After hint.
// r <= 0 disables limiting. Idle limiters are swept until ctx is done.
func RateLimit(ctx context.Context, r rate.Limit, b int) gin.HandlerFunc {
	if r <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := &sync.Map{}

	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sweepLimiters(limiters, now.Add(-limiterIdleAfter))
			}
		}
	}()

	return func(c *gin.Context) {
		v, ok := limiters.Load(c.ClientIP())
		if !ok {
			v, _ = limiters.LoadOrStore(c.ClientIP(), &ipLimiter{limiter: rate.NewLimiter(r, b)})
		}
		il := v.(*ipLimiter)
		il.lastSeen.Store(time.Now().UnixNano())

		res := il.limiter.Reserve()
		if wait := res.Delay(); wait > 0 {
			res.Cancel()
			c.Header("Retry-After", retryAfter(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// retryAfter renders wait as whole seconds, at least 1.
func retryAfter(wait time.Duration) string {
	if wait == rate.InfDuration {
		return "60"
	}
	return strconv.Itoa(max(1, int(math.Ceil(wait.Seconds()))))
}

func sweepLimiters(limiters *sync.Map, cutoff time.Time) int {
	removed := 0
	limiters.Range(func(k, v any) bool {
		if v.(*ipLimiter).lastSeen.Load() < cutoff.UnixNano() {
			limiters.Delete(k)
			removed++
		}
		return true
	})
	return removed
}
