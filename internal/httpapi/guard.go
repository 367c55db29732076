package httpapi

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aloksahay/warhead/internal/realtime"
)

const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Authorization"

	// idle per-client limiters are forgotten after this long
	limiterIdle = 10 * time.Minute
)

// Option configures an API.
type Option func(*API)

// WithRateLimit allows each client IP requests per window, as a token bucket
// refilled evenly over the window. Zero requests disables limiting.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(a *API) {
		if requests <= 0 || window <= 0 {
			a.limits = nil
			return
		}
		a.limits = newClientLimits(rate.Every(window/time.Duration(requests)), requests, time.Now)
	}
}

// WithAllowedOrigins restricts cross-origin requests to origins. An empty
// list allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		a.origins = origins
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimits holds one token bucket per client IP.
type clientLimits struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	every     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newClientLimits(every rate.Limit, burst int, now func() time.Time) *clientLimits {
	return &clientLimits{
		clients:   make(map[string]*clientLimiter),
		every:     every,
		burst:     burst,
		now:       now,
		lastSweep: now(),
	}
}

// reserve takes a token for ip. When none is left it reports how long until
// the next one.
func (c *clientLimits) reserve(ip string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= limiterIdle {
		for key, cl := range c.clients {
			if now.Sub(cl.lastSeen) >= limiterIdle {
				delete(c.clients, key)
			}
		}
		c.lastSweep = now
	}

	cl, ok := c.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(c.every, c.burst)}
		c.clients[ip] = cl
	}
	cl.lastSeen = now

	if cl.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := cl.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) limitRate(next http.Handler) http.Handler {
	if a.limits == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := a.limits.reserve(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests, please try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors answers preflight requests and marks responses readable by allowed
// origins. Requests without an Origin header pass through untouched.
func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		allowed := realtime.OriginAllowed(a.origins, origin)
		if allowed {
			if len(a.origins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				writeJSON(w, http.StatusForbidden, errorResponse{Error: fmt.Sprintf("origin %s not allowed", origin)})
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
