package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"db reachable", &mockHealthChecker{}, http.StatusOK, "ok"},
		{"db down", &mockHealthChecker{err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, "unavailable"},
		{"no checker", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeBody(t, w)["status"]; got != tt.wantBody {
				t.Errorf("status field = %v, want %q", got, tt.wantBody)
			}
			if strings.Contains(w.Body.String(), "refused") {
				t.Error("ping error must not be exposed")
			}
		})
	}
}

func TestPageHandler_RendersPlaceholder(t *testing.T) {
	for path, data := range pages {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			newPageHandler(data)(w, httptest.NewRequest(http.MethodGet, path, nil))

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Content-Type = %q", ct)
			}
			if !strings.Contains(w.Body.String(), `data-page="`+data.Name+`"`) {
				t.Errorf("body does not mark page %q: %s", data.Name, w.Body.String())
			}
		})
	}
}
