package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]int64)}
}

func (m *memCounter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, time.Time{}, m.err
	}
	m.counts[key]++
	return m.counts[key], time.Now().Truncate(window).Add(window), nil
}

// --- Helpers ---

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func keyFor(fn func(*http.Request) string, remote, xff string) string {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	req.Header.Set("X-Forwarded-For", xff)
	return fn(req)
}

// --- Tests ---

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(newMemCounter(), RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i := range 3 {
		w := hit(h, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(newMemCounter(), RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999").Code)
	w := hit(h, "10.0.0.1:9999")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = hit(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:9999").Code, "other clients are unaffected")
}

func TestRateLimit_CounterFailureFailsOpen(t *testing.T) {
	c := newMemCounter()
	c.err = errors.New("redis down")
	h := RateLimit(c, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	for range 3 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(newMemCounter(), RateLimitConfig{})(okHandler())
	w := hit(h, "10.0.0.1:1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_Skip(t *testing.T) {
	h := RateLimit(newMemCounter(), RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Skip:   func(r *http.Request) bool { return r.URL.Path == "/api/webhooks/stripe" },
	})(okHandler())

	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", nil)
		req.RemoteAddr = "10.0.0.1:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1").Code)
}

func TestRateLimit_ForwardedHeaderNotTrustedByDefault(t *testing.T) {
	h := RateLimit(newMemCounter(), RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	for i, spoof := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		req.RemoteAddr = "10.0.0.1:1"
		req.Header.Set("X-Forwarded-For", spoof)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if i == 0 {
			assert.Equal(t, http.StatusOK, w.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code, "a new forwarded value is the same client")
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded ignored", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "9.9.9.9:1", "9.9.9.9"},
		{"real ip ignored", map[string]string{"X-Real-IP": "3.3.3.3"}, "9.9.9.9:1", "9.9.9.9"},
		{"remote addr", nil, "9.9.9.9:1", "9.9.9.9"},
		{"remote without port", nil, "9.9.9.9", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestTrustedClientIP(t *testing.T) {
	trusted, err := ParsePrefixes([]string{"10.0.0.0/8", " 192.168.1.5 ", ""})
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.5/32"),
	}, trusted)
	keyOf := TrustedClientIP(trusted)

	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"untrusted peer", "1.1.1.1", "8.8.8.8:1", "8.8.8.8"},
		{"trusted peer", "1.1.1.1", "10.1.2.3:1", "1.1.1.1"},
		{"spoofed left hop", "6.6.6.6, 1.1.1.1", "10.1.2.3:1", "1.1.1.1"},
		{"proxy chain", "1.1.1.1, 10.9.9.9", "192.168.1.5:1", "1.1.1.1"},
		{"no header", "", "10.1.2.3:1", "10.1.2.3"},
		{"garbage", "not-an-ip", "10.1.2.3:1", "10.1.2.3"},
		{"all trusted", "10.7.7.7", "10.1.2.3:1", "10.7.7.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, keyOf(req))
		})
	}

	_, err = ParsePrefixes([]string{"10.0.0.0/33"})
	require.Error(t, err)
	assert.Equal(t, "9.9.9.9", keyFor(TrustedClientIP(nil), "9.9.9.9:1", "1.1.1.1"))
}
