package ingest

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles ingestion per client identity using one token bucket
// per client, refilled at the configured requests-per-minute rate.
type Limiter struct {
	mutex   sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

// NewLimiter creates a limiter allowing perMinute requests per client per
// minute. perMinute <= 0 disables throttling.
func NewLimiter(perMinute int) *Limiter {
	l := &Limiter{clients: make(map[string]*rate.Limiter)}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

// Allow reports whether the given client may issue another request now.
func (l *Limiter) Allow(client string) bool {
	if l == nil || l.burst == 0 {
		return true
	}
	l.mutex.Lock()
	limiter := l.clients[client]
	if limiter == nil {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients[client] = limiter
	}
	l.mutex.Unlock()
	return limiter.Allow()
}

// clientIP determines the client identity for rate limiting. Proxies are
// trusted to set X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
