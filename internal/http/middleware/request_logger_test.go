package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLoggerPreservesFlusher(t *testing.T) {
	flushed := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected wrapped writer to expose http.Flusher")
		}
		_, _ = w.Write([]byte("data: hello\n\n"))
		f.Flush()
		flushed = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/booking", nil)
	rec := httptest.NewRecorder()

	RequestLogger(nil)(handler).ServeHTTP(rec, req)

	if !flushed {
		t.Fatal("expected handler to flush")
	}
	if !rec.Flushed {
		t.Fatal("expected flush to reach the underlying writer")
	}
}

func TestRequestLoggerRecordsExplicitStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/booking/history", nil)
	rec := httptest.NewRecorder()

	RequestLogger(nil)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}
