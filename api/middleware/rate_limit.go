package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultIdleTTL    = 10 * time.Minute
	sweepInterval     = time.Minute
	unknownClientAddr = "unknown"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address. Buckets idle
// longer than the configured TTL are evicted lazily.
type IPRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	// trustedHops is how many proxies append to X-Forwarded-For.
	trustedHops int
}

func NewIPRateLimiter(cfg config.RateLimitConfig) *IPRateLimiter {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	hops := cfg.TrustedProxies
	if hops < 0 {
		hops = 0
	}
	return &IPRateLimiter{
		visitors:    map[string]*visitor{},
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       burst,
		idleTTL:     idle,
		now:         time.Now,
		trustedHops: hops,
	}
}

// Enabled is false when the configured rate is not positive.
func (l *IPRateLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow consumes one token for key.
func (l *IPRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimit rejects requests over the per-IP budget with 429.
func RateLimit(limiter *IPRateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, limiter.trustedHops)
			if limiter.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "ip", ip), "rate_limit.blocked", nil)
			}
			w.Header().Set("Retry-After", "1")
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
		})
	}
}

// clientIP returns the address the request came from. Forwarding headers are
// client controlled, so they are only read when trustedHops proxies sit in
// front of the API, and then only the entry the outermost trusted proxy
// appended is used.
func clientIP(r *http.Request, trustedHops int) string {
	if r == nil {
		return unknownClientAddr
	}
	if trustedHops > 0 {
		if header := r.Header.Get("X-Forwarded-For"); header != "" {
			var hops []string
			for _, part := range strings.Split(header, ",") {
				if ip := strings.TrimSpace(part); ip != "" {
					hops = append(hops, ip)
				}
			}
			if len(hops) > 0 {
				idx := len(hops) - trustedHops
				if idx < 0 {
					idx = 0
				}
				return hops[idx]
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return unknownClientAddr
}
