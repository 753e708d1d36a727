// Package ratelimit throttles requests per client identity.
//
// The policy is at most one admitted request per cooldown window per
// identifier, not a token bucket: every call — admitted or throttled —
// atomically records the caller as last seen, and a caller is throttled
// while the window since the previous sighting is still open.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/littletone/littletone/internal/log"
)

// Limiter gates requests against a last-seen store.
type Limiter struct {
	store    Store
	cooldown time.Duration
	logger   log.Logger
}

// NewLimiter creates a limiter with the given cooldown between admitted
// requests from one identifier.
func NewLimiter(store Store, cooldown time.Duration, logger log.Logger) *Limiter {
	return &Limiter{store: store, cooldown: cooldown, logger: logger}
}

// Admit decides whether a request from clientID at time now may proceed.
// When throttled, retryAfter is the remaining wait.
//
// Store failures fail open: rate limiting is a cost control, not a security
// boundary, and dropping traffic because Redis blinked would be worse than
// briefly admitting it.
func (l *Limiter) Admit(ctx context.Context, clientID string, now time.Time) (admitted bool, retryAfter time.Duration) {
	if l.cooldown <= 0 {
		return true, 0
	}

	prev, seen, err := l.store.Touch(ctx, clientID, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, admitting request", "client", clientID, "error", err)
		return true, 0
	}
	if !seen {
		return true, 0
	}

	elapsed := now.Sub(prev)
	if elapsed < l.cooldown {
		return false, l.cooldown - elapsed
	}
	return true, 0
}

// ClientID derives the rate-limit key from the request origin.
//
// When trustProxy is set, the first entry of X-Forwarded-For wins if it
// parses as an IP. This is spoofable and is a best-effort heuristic, not a
// security control. Otherwise the transport peer address is used.
func ClientID(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
