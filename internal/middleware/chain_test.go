package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

type recordingCollector struct {
	statuses  []int
	latencies int
}

func (c *recordingCollector) RecordRegistration(string) {}
func (c *recordingCollector) RecordLogin(string) {}
func (c *recordingCollector) RecordResetRequest() {}
func (c *recordingCollector) RecordResetResult(string) {}
func (c *recordingCollector) RecordSessionVerifyFailure(string) {}
func (c *recordingCollector) RecordGuardDecision(string) {}
func (c *recordingCollector) RecordHTTPStatus(code int) {
	c.statuses = append(c.statuses, code)
}
func (c *recordingCollector) RecordRequestLatency(time.Duration) {
	c.latencies++
}

// TestMiddlewareChain_GuardThenGeneralLimit は
// セッションガード → レート制限の順でユーザーIDが引き継がれることを検証する。
func TestMiddlewareChain_GuardThenGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(
		NewSessionGuardMiddleware(newTestGuard())(
			rl.GeneralMiddleware()(http.HandlerFunc(okHandler)),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount() = %d, want 1", rl.GeneralLimiterCount())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "user-123")
	}
}

func TestMiddlewareChain_NoSession_Returns401BeforeLimiter(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	handler := NewSessionGuardMiddleware(newTestGuard())(rl.GeneralMiddleware()(http.HandlerFunc(okHandler)))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0", rl.GeneralLimiterCount())
	}
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(okHandler))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
	}
	for header, value := range want {
		if got := w.Result().Header.Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestRecoveryMiddleware_ReturnsUnifiedInternalError(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic recovered")) {
		t.Error("panic should be logged")
	}
}

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	c := &recordingCollector{}
	handler := NewMetricsMiddleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/auth/register", nil))

	if len(c.statuses) != 1 || c.statuses[0] != http.StatusCreated {
		t.Errorf("statuses = %v, want [201]", c.statuses)
	}
	if c.latencies != 1 {
		t.Errorf("latencies = %d, want 1", c.latencies)
	}
}
