package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestResetToken_IsExpiredAt(t *testing.T) {
	expiresAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := &ResetToken{ExpiresAt: expiresAt}

	if tok.IsExpiredAt(expiresAt.Add(-time.Second)) {
		t.Error("expected token to be valid before expiry")
	}
	// 有効期限ちょうどはまだ有効
	if tok.IsExpiredAt(expiresAt) {
		t.Error("expected token to be valid exactly at expiry")
	}
	if !tok.IsExpiredAt(expiresAt.Add(time.Nanosecond)) {
		t.Error("expected token to be expired after expiry")
	}
}

func TestUser_JSONOmitsPasswordHash(t *testing.T) {
	u := User{ID: "u-1", Email: "alice@example.com", PasswordHash: "$2a$12$secret"}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "secret") {
		t.Errorf("password hash leaked into JSON: %s", b)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewDuplicateEmailError()
	if !strings.HasPrefix(err.Error(), "[DUPLICATE_EMAIL]") {
		t.Errorf("Error() = %q, want prefix [DUPLICATE_EMAIL]", err.Error())
	}
}
