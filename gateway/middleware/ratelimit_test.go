package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"rpc": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	var throttled []string
	limiter.OnThrottle(func(route, client string) { throttled = append(throttled, route) })

	handler := limiter.Middleware("rpc")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if len(throttled) != 1 || throttled[0] != "rpc" {
		t.Fatalf("expected one throttle callback, got %v", throttled)
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"rpc":     {RequestsPerMinute: 1, Burst: 1},
		"metrics": {RequestsPerMinute: 1, Burst: 1},
	}, nil)

	rpcHandler := limiter.Middleware("rpc")(okHandler())
	metricsHandler := limiter.Middleware("metrics")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	rpcHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected rpc request to succeed, got %d", res.Code)
	}

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsReq.Header.Set("X-API-Key", "tenant-A")
	metricsRes := httptest.NewRecorder()
	metricsHandler.ServeHTTP(metricsRes, metricsReq)
	if metricsRes.Code != http.StatusOK {
		t.Fatalf("expected first metrics request to succeed, got %d", metricsRes.Code)
	}

	metricsRes = httptest.NewRecorder()
	metricsHandler.ServeHTTP(metricsRes, metricsReq)
	if metricsRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second metrics request to hit limit, got %d", metricsRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"rpc": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("rpc")(okHandler())

	for _, key := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-API-Key", key)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", key, res.Code)
		}
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"rpc": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("rpc")(okHandler())

	serve := func() int {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/", nil))
		return res.Code
	}
	if code := serve(); code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", code)
	}
	if code := serve(); code != http.StatusTooManyRequests {
		t.Fatalf("expected immediate retry to be limited, got %d", code)
	}
	now = now.Add(2 * time.Second)
	if code := serve(); code != http.StatusOK {
		t.Fatalf("expected request after refill to succeed, got %d", code)
	}
}

func TestRateLimiterPassesUnknownRoutes(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("rpc")(okHandler())
	for i := 0; i < 3; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected pass-through, got %d", i, res.Code)
		}
	}
}
