package server

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakhilchawla/audit-llm-decision/internal/metrics"
)

// RateLimitInfo is the per-request view of a client's budget, written as
// x-ratelimit-* response headers.
type RateLimitInfo struct {
	RequestsLimit     int
	RequestsRemaining int
	RequestsReset     time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter gives each client address a token bucket that refills
// requests tokens per window, with a burst of requests.
type RateLimiter struct {
	requests int
	window   time.Duration
	limit    rate.Limit

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing requests per window per client.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:  requests,
		window:    window,
		limit:     rate.Limit(float64(requests) / window.Seconds()),
		clients:   make(map[string]*clientLimiter),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow consumes one token for clientID and reports the remaining budget.
func (rl *RateLimiter) Allow(clientID string) (bool, RateLimitInfo) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	c, ok := rl.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.requests)}
		rl.clients[clientID] = c
	}
	c.lastSeen = now

	allowed := c.limiter.AllowN(now, 1)
	tokens := c.limiter.TokensAt(now)

	info := RateLimitInfo{
		RequestsLimit:     rl.requests,
		RequestsRemaining: int(math.Max(0, math.Floor(tokens))),
	}
	if missing := float64(rl.requests) - tokens; missing > 0 && rl.limit > 0 {
		info.RequestsReset = time.Duration(missing / float64(rl.limit) * float64(time.Second))
	}
	if !allowed {
		info.RequestsReset = time.Duration((1 - tokens) / float64(rl.limit) * float64(time.Second))
	}
	return allowed, info
}

// sweep drops clients idle for a full window; their bucket would be full again.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for id, c := range rl.clients {
		if now.Sub(c.lastSeen) >= rl.window {
			delete(rl.clients, id)
		}
	}
	rl.lastSweep = now
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects requests over budget with 429.
func (rl *RateLimiter) Middleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, info := rl.Allow(clientKey(r))
			writeRateLimitHeaders(w.Header(), info)

			if !allowed {
				m.RecordRateLimited()
				AddLogField(r.Context(), "rate_limited", "true")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(info.RequestsReset.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]map[string]string{
					"error": {"message": "Too many requests, please try again later."},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitHeaders(h http.Header, rl RateLimitInfo) {
	if rl.RequestsLimit <= 0 {
		return
	}
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(rl.RequestsLimit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(rl.RequestsRemaining))
	if rl.RequestsReset > 0 {
		h.Set("x-ratelimit-reset-requests", rl.RequestsReset.Round(time.Millisecond).String())
	}
}
