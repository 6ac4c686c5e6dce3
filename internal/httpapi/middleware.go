package httpapi

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"carestream.org/internal/audit"
	"carestream.org/internal/obs"
)

const requestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or assigns one, and carries it
// into the request context for audit entries.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(requestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(requestIDHeader, rid)
			req := c.Request()
			c.SetRequest(req.WithContext(audit.WithRequestID(req.Context(), rid)))
			return next(c)
		}
	}
}

// Logger: method, path, status, duration
func Logger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			rid, _ := c.Get("request_id").(string)
			evt := log.Info()
			if c.Response().Status >= http.StatusInternalServerError {
				evt = log.Error().Err(err)
			}
			evt.Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}

// Recovery turns a handler panic into a 500.
func Recovery(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					log.Error().
						Str("request_id", fmt.Sprint(c.Get("request_id"))).
						Str("panic", fmt.Sprint(r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

// Metrics records request count, latency and in-flight gauge by route.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			done := obs.HTTPStarted()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				status = statusFor(err)
			}
			path := c.Path()
			if path == "" {
				path = obs.CanonicalPath(c.Request().URL.Path)
			}
			done(c.Request().Method, path, status)
			return err
		}
	}
}

// SecurityHeaders: hardening for a JSON API serving patient data.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}

// RateLimit: token-bucket per client IP
func RateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	type bucket struct {
		lim *rate.Limiter
		ts  time.Time
	}
	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
		ttl     = 5 * time.Minute
		swept   = time.Now()
	)
	limiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		if now.Sub(swept) > time.Minute {
			for k, b := range buckets {
				if now.Sub(b.ts) > ttl {
					delete(buckets, k)
				}
			}
			swept = now
		}
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
			buckets[ip] = b
		}
		b.ts = now
		return b.lim
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if perSecond <= 0 {
				return next(c)
			}
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			lim := limiter(ip)
			if !lim.Allow() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter(perSecond)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func retryAfter(perSecond float64) int {
	if perSecond >= 1 {
		return 1
	}
	return int(1/perSecond) + 1
}
