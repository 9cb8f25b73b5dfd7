package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Effectively no refill during the test.
	mw := RateLimit(0.001, 2)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/booking", nil)
		req.Header.Set("X-Real-Ip", "203.0.113.7")
		last = httptest.NewRecorder()
		mw(handler).ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := RateLimit(0.001, 1)

	first := httptest.NewRequest(http.MethodPost, "/api/chat/booking", nil)
	first.Header.Set("X-Real-Ip", "203.0.113.8")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first client allowed, got %d", rec.Code)
	}

	// A different client has its own bucket.
	second := httptest.NewRequest(http.MethodPost, "/api/chat/booking", nil)
	second.Header.Set("X-Real-Ip", "203.0.113.9")
	rec = httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, second)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected second client allowed, got %d", rec.Code)
	}
}
