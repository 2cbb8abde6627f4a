package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"selftreat/internal/metrics"
	"selftreat/internal/service"
)

// sessionKey is the gin context key holding the authenticated session.
const sessionKey = "session"

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs every request through logrus and counts it by route.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("request failed")
		default:
			entry.Debug("request")
		}
	}
}

// sessionToken returns the token from the session cookie, falling back to
// an Authorization bearer header.
func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (h *Handler) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := h.auth.Authenticate(c.Request.Context(), sessionToken(c))
		if err != nil {
			if errors.Is(err, service.ErrAuthenticationRequired) {
				fail(c, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			h.logger.Errorf("authenticate: %v", err)
			fail(c, http.StatusInternalServerError, msgServerError)
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// loginLimiter keeps one token bucket per client IP. A bucket left idle
// long enough to refill completely is dropped.
type loginLimiter struct {
	rps   float64
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLoginLimiter(rps float64, burst int) *loginLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	idle := time.Duration(float64(burst) / rps * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &loginLimiter{
		rps:     rps,
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *loginLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. Callers hold l.mu.
func (l *loginLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *loginLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues(c.FullPath()).Inc()
			fail(c, http.StatusTooManyRequests, msgTooManyLogins)
			return
		}
		c.Next()
	}
}
