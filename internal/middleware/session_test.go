package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authgate/internal/guard"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(raw string) (*token.Claims, error)
}

func (m *mockVerifier) Verify(raw string) (*token.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(raw)
	}
	return nil, token.ErrMalformed
}

var _ guard.Verifier = (*mockVerifier)(nil)

// newTestGuard は"valid-token"のみを有効とするGuardを返す。
func newTestGuard() *guard.Guard {
	return guard.New(&mockVerifier{verifyFn: func(raw string) (*token.Claims, error) {
		if raw == "valid-token" {
			return &token.Claims{UserID: "user-123", Email: "alice@example.com"}, nil
		}
		return nil, token.ErrInvalidSignature
	}}, guard.DefaultRules(), nil)
}

func serveGuarded(t *testing.T, path, cookie string, next http.HandlerFunc) *http.Response {
	t.Helper()
	handler := NewSessionGuardMiddleware(newTestGuard())(next)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie})
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Result()
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// --- テスト ---

func TestSessionGuard_ValidSession_InjectsUserIDAndClaims(t *testing.T) {
	var capturedUserID string
	var capturedClaims *token.Claims
	resp := serveGuarded(t, "/dashboard", "valid-token", func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		capturedClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
	if capturedClaims == nil || capturedClaims.Email != "alice@example.com" {
		t.Errorf("claims = %+v", capturedClaims)
	}
}

func TestSessionGuard_Redirects(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		cookie   string
		location string
	}{
		{"protected page without cookie", "/dashboard", "", "/login"},
		{"protected page with invalid token", "/dashboard", "tampered", "/login"},
		{"unknown page without cookie", "/settings", "", "/login"},
		{"root without cookie", "/", "", "/login"},
		{"root with valid session", "/", "valid-token", "/dashboard"},
		{"login page with valid session", "/login", "valid-token", "/dashboard"},
		{"register page with valid session", "/register", "valid-token", "/dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serveGuarded(t, tt.path, tt.cookie, func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})
			if resp.StatusCode != http.StatusFound {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
			}
			if got := resp.Header.Get("Location"); got != tt.location {
				t.Errorf("Location = %q, want %q", got, tt.location)
			}
		})
	}
}

func TestSessionGuard_PublicPageWithoutSession_Allows(t *testing.T) {
	for _, p := range []string{"/login", "/register", "/forgot-password", "/reset-password"} {
		resp := serveGuarded(t, p, "", okHandler)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", p, resp.StatusCode, http.StatusOK)
		}
	}
	// 無効なトークンはCookie無しと同じ扱い
	if resp := serveGuarded(t, "/login", "expired", okHandler); resp.StatusCode != http.StatusOK {
		t.Errorf("login with invalid token: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestSessionGuard_ProtectedAPIWithoutSession_Returns401JSON(t *testing.T) {
	resp := serveGuarded(t, "/api/me", "", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeUnauthenticated {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
	}
}

func TestSessionGuard_ExemptPathsPassThrough(t *testing.T) {
	for _, p := range []string{"/api/auth/login", "/api/auth/verify", "/health", "/metrics"} {
		var hasClaims bool
		resp := serveGuarded(t, p, "valid-token", func(w http.ResponseWriter, r *http.Request) {
			hasClaims = ClaimsFromContext(r.Context()) != nil
			w.WriteHeader(http.StatusOK)
		})
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", p, resp.StatusCode, http.StatusOK)
		}
		if hasClaims {
			t.Errorf("%s: claims should not be injected on exempt paths", p)
		}
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error when user ID is absent")
	}
	if ClaimsFromContext(req.Context()) != nil {
		t.Error("expected nil claims when absent")
	}
}

func TestContextWithClaims_SetsUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := ContextWithClaims(req.Context(), &token.Claims{UserID: "user-9"})

	userID, err := UserIDFromContext(ctx)
	if err != nil || userID != "user-9" {
		t.Errorf("UserIDFromContext = %q, %v; want user-9", userID, err)
	}
}
