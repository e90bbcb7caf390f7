package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"trendlab/internal/errors"
)

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. Buckets unused for ten minutes are dropped.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether key may make a request now.
func (r *RateLimiter) Allow(key string) bool {
	return r.get(key).Allow()
}

func (r *RateLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	cl, ok := r.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = cl
	}
	cl.lastSeen = now

	// 顺便清理长时间未使用的客户端
	if len(r.clients) > 1024 {
		for k, v := range r.clients {
			if now.Sub(v.lastSeen) > r.idle {
				delete(r.clients, k)
			}
		}
	}
	return cl.limiter
}

// retryAfter is the whole number of seconds until one token refills.
func (r *RateLimiter) retryAfter() int {
	if r.limit <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(r.limit))))
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(r.retryAfter()))
		writeError(c, errors.New(errors.ErrCodeRateLimit, "rate limit exceeded").
			WithContext("limit", float64(r.limit)).
			WithContext("burst", r.burst))
	}
}
