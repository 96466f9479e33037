package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	return l
}

func TestAllow_BurstThenDeny(t *testing.T) {
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})

	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("request beyond burst allowed")
	}

	// One token per second at 60/min.
	time.Sleep(1100 * time.Millisecond)
	if !l.Allow("10.0.0.1") {
		t.Fatal("request denied after refill window")
	}
}

func TestAllow_KeysHaveSeparateBudgets(t *testing.T) {
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	if l.Allow("client-a") {
		t.Fatal("client-a not throttled after exhausting its bucket")
	}
	if !l.Allow("client-b") {
		t.Fatal("client-b throttled by client-a's bucket")
	}
}

func TestAllow_RefillRateTracksConfig(t *testing.T) {
	// 600/min = 10 per second; bucket of one.
	l := newLimiter(t, Config{RequestsPerMinute: 600, BurstSize: 1, CleanupInterval: time.Minute})

	if !l.Allow("k") {
		t.Fatal("first request denied")
	}
	if l.Allow("k") {
		t.Fatal("second immediate request allowed with burst of one")
	}
	time.Sleep(120 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatal("request denied after a full token's worth of refill")
	}
}

func TestMiddleware_Returns429WithRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.7:4242"
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(); code != http.StatusOK {
		t.Fatalf("first request: status %d", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", code)
	}
}

func TestMiddleware_AuthorizationHeaderGetsOwnBucket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(authz string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.7:4242"
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Exhaust the anonymous bucket for this IP, then a keyed request from
	// the same address must still pass.
	do("")
	if code := do(""); code != http.StatusTooManyRequests {
		t.Fatalf("anonymous bucket not exhausted: status %d", code)
	}
	if code := do("Bearer some-service-key"); code != http.StatusOK {
		t.Fatalf("keyed request shared the anonymous bucket: status %d", code)
	}
}

func TestDefaultConfig_Populated(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 || cfg.BurstSize <= 0 || cfg.CleanupInterval <= 0 {
		t.Fatalf("DefaultConfig has zero fields: %+v", cfg)
	}
}
