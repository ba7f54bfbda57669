package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Counter counts hits for key in the fixed window of the given length that
// contains the current time. It returns the count including this hit and
// the end of the window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// KeyFunc picks the limited identity. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests from limiting.
	Skip func(*http.Request) bool
}

// RateLimit enforces a fixed-window limit backed by counter. Counter
// failures let the request through.
func RateLimit(counter Counter, cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		if counter == nil || cfg.Max <= 0 || cfg.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			key := cfg.KeyFunc(r)
			count, resetAt, err := counter.Hit(r.Context(), key, cfg.Window)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit counter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(cfg.Max) - count
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if count > int64(cfg.Max) {
				wait := time.Until(resetAt).Round(time.Second)
				if wait < time.Second {
					wait = time.Second
				}
				h.Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host of the direct peer. Forwarding headers are
// ignored; see TrustedClientIP.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrustedClientIP returns a KeyFunc that reads X-Forwarded-For only when the
// direct peer is inside trusted. The chain is walked from the right and the
// first hop outside trusted wins. With no trusted prefixes it is ClientIP.
func TrustedClientIP(trusted []netip.Prefix) func(*http.Request) string {
	if len(trusted) == 0 {
		return ClientIP
	}
	isTrusted := func(a netip.Addr) bool {
		for _, p := range trusted {
			if p.Contains(a) {
				return true
			}
		}
		return false
	}
	return func(r *http.Request) string {
		peer := ClientIP(r)
		addr, err := netip.ParseAddr(peer)
		if err != nil || !isTrusted(addr.Unmap()) {
			return peer
		}

		client := peer
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			hop = hop.Unmap()
			client = hop.String()
			if !isTrusted(hop) {
				break
			}
		}
		return client
	}
}

// ParsePrefixes parses CIDRs or bare addresses into prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, errors.Wrapf(err, "parse prefix %q", v)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parse address %q", v)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}
