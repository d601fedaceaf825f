package shield

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/missingmoney/dbopen"
	"github.com/hazyhaar/missingmoney/kit"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func newLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewRateLimiter(db, quiet, "/health")
}

func search(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/search-missing-money", strings.NewReader("{}"))
	req.RemoteAddr = ip + ":5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_BlocksAfterMax(t *testing.T) {
	rl := newLimiter(t)
	if err := rl.SetRule(context.Background(), "POST /api/search-missing-money",
		RateLimitConfig{MaxRequests: 2, WindowSeconds: 60, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	h := rl.Middleware(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		if rec := search(h, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := search(h, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["success"] != false || body["retryable"] != true {
		t.Errorf("body = %v", body)
	}

	if rec := search(h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Fatalf("other client: status %d", rec.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := newLimiter(t)
	rl.SetRule(context.Background(), "POST /api/search-missing-money",
		RateLimitConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true})
	now := time.Now()
	rl.now = func() time.Time { return now }
	h := rl.Middleware(http.HandlerFunc(okHandler))

	search(h, "10.0.0.1")
	if rec := search(h, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	now = now.Add(61 * time.Second)
	if rec := search(h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("after window: status %d", rec.Code)
	}

	now = now.Add(2 * time.Minute)
	rl.gc()
	if len(rl.buckets) != 0 {
		t.Errorf("buckets after gc = %d", len(rl.buckets))
	}
}

func TestRateLimiter_DisabledAndUnknown(t *testing.T) {
	rl := newLimiter(t)
	rl.SetRule(context.Background(), "POST /api/search-missing-money",
		RateLimitConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: false})
	h := rl.Middleware(http.HandlerFunc(okHandler))
	for i := 0; i < 3; i++ {
		if rec := search(h, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("disabled rule: status %d", rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("no rule: status %d", rec.Code)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Errorf("RemoteAddr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.5" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}

func TestTraceIDAndHeaders(t *testing.T) {
	var traceID string
	var logger *slog.Logger
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
		logger = GetLogger(r.Context())
	})
	var h http.Handler = inner
	stack := DefaultStack(quiet, nil)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}

	req := httptest.NewRequest(http.MethodHead, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if traceID == "" || rec.Header().Get("X-Trace-ID") != traceID {
		t.Errorf("trace id %q, header %q", traceID, rec.Header().Get("X-Trace-ID"))
	}
	if logger == nil || logger == slog.Default() {
		t.Error("per-request logger not set")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("security headers = %v", rec.Header())
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search-missing-money", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"firstName":"way too long"}`))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Fatal("expected error reading past the limit")
	}
}
