package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/kv"
)

func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

// ---------------------------------------------------------------------------
// RequestID
// ---------------------------------------------------------------------------

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")

	var seen string
	err := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return ok(c)
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header %q does not match %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, "my-custom-id")

	_ = RequestID()(ok)(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, strings.Repeat("x", 200))

	_ = RequestID()(ok)(c)

	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a fresh UUID, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Logger
// ---------------------------------------------------------------------------

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	return m
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newContext(http.MethodGet, "/api/v1/claims")
	c.Set("request_id", "req-123")
	c.Set("user_id", "user-9")

	if err := Logger(zerolog.New(&buf))(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line := logLine(t, &buf)
	if line["level"] != "info" || line["path"] != "/api/v1/claims" || line["request_id"] != "req-123" {
		t.Errorf("unexpected log line %v", line)
	}
	if line["status"] != float64(200) || line["user_id"] != "user-9" {
		t.Errorf("unexpected status/user in %v", line)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		err   error
		level string
	}{
		{echo.NewHTTPError(http.StatusNotFound, "claim not found"), "warn"},
		{echo.NewHTTPError(http.StatusBadGateway, "write failed"), "error"},
		{errors.New("unclassified"), "error"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		c, _ := newContext(http.MethodPost, "/api/v1/claims/generate/x")
		_ = Logger(zerolog.New(&buf))(func(echo.Context) error { return tt.err })(c)

		if got := logLine(t, &buf)["level"]; got != tt.level {
			t.Errorf("%v: expected level %s, got %v", tt.err, tt.level, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newContext(http.MethodGet, "/panic")

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error { panic("test panic") })(c)

	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if line := logLine(t, &buf); line["panic"] != "test panic" {
		t.Errorf("expected panic value logged, got %v", line)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/ok")
	if err := Recovery(zerolog.Nop())(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// RequestTimeout
// ---------------------------------------------------------------------------

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/claims")
	if err := RequestTimeout(5 * time.Second)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/claims/generate/x")
	c.Set("request_id", "req-1")

	slow := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	}
	if err := RequestTimeout(20 * time.Millisecond)(slow)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["request_id"] != "req-1" || body["error"] == "" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRequestTimeout_SkipsPrefixes(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/health/db")
	var hasDeadline bool
	_ = RequestTimeout(time.Second, "/health")(func(c echo.Context) error {
		_, hasDeadline = c.Request().Context().Deadline()
		return nil
	})(c)
	if hasDeadline {
		t.Error("skipped path must not get a deadline")
	}
}

func TestRequestTimeout_ClientCancel(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/claims")
	ctx, cancel := context.WithCancel(c.Request().Context())
	c.SetRequest(c.Request().WithContext(ctx))
	cancel()

	err := RequestTimeout(time.Second)(func(c echo.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})(c)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// SecurityHeaders
// ---------------------------------------------------------------------------

func TestSecurityHeaders_SetsAllHeaders(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/claims")
	if err := SecurityHeaders()(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for header, want := range securityHeaders {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected Cache-Control no-store")
	}
}

// ---------------------------------------------------------------------------
// RateLimit
// ---------------------------------------------------------------------------

type brokenStore struct{ kv.Store }

func (brokenStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func TestRateLimit_WithinAndOverLimit(t *testing.T) {
	cfg := RateLimitConfig{Requests: 2, Window: time.Hour, Prefix: "rl:"}
	h := RateLimit(kv.NewMemoryStore(), cfg, zerolog.Nop())(ok)

	for i := 0; i < 2; i++ {
		c, rec := newContext(http.MethodGet, "/")
		if err := h(c); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("request %d: unexpected limit header %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	c, rec := newContext(http.MethodGet, "/")
	err := h(c)
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	cfg := RateLimitConfig{Requests: 1, Window: time.Hour}
	h := RateLimit(kv.NewMemoryStore(), cfg, zerolog.Nop())(ok)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		c, _ := newContext(http.MethodGet, "/")
		c.Request().Header.Set(echo.HeaderXRealIP, ip)
		if err := h(c); err != nil {
			t.Errorf("%s: expected first request to pass, got %v", ip, err)
		}
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(brokenStore{}, DefaultRateLimitConfig(), zerolog.Nop())(ok)
	c, rec := newContext(http.MethodGet, "/")
	if err := h(c); err != nil {
		t.Fatalf("expected request to pass when store is down, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
