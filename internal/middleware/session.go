// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/guard"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// claimsContextKey は検証済みクレームを格納するためのキー。
	claimsContextKey = contextKey("claims")
)

// NewSessionGuardMiddleware はセッションガードの判定をHTTPに適用するミドルウェアを返す。
//
// ページへのリクエストは302でリダイレクトする。
// /api/配下でログインへのリダイレクトとなるリクエストには401のJSONを返す。
// 通過を許可したリクエストには、有効なセッションがあればユーザーIDとクレームを注入する。
func NewSessionGuardMiddleware(g *guard.Guard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				raw = cookie.Value
			}

			res := g.Evaluate(r.URL.Path, raw)
			switch res.Decision {
			case guard.Allow:
				if res.Authenticated() {
					ctx := ContextWithClaims(r.Context(), res.Claims)
					r = r.WithContext(ctx)
				}
				next.ServeHTTP(w, r)
			case guard.RedirectToLogin:
				if isAPIPath(r.URL.Path) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
					return
				}
				http.Redirect(w, r, res.Decision.Location(), http.StatusFound)
			default:
				http.Redirect(w, r, res.Decision.Location(), http.StatusFound)
			}
		})
	}
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションガードで認証済みと判定されたリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ClaimsFromContext は検証済みのクレームを取得する。無い場合はnilを返す。
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*token.Claims)
	return claims
}

// ContextWithClaims はコンテキストにクレームとそのユーザーIDを注入する。
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	setRequestUserID(ctx, claims.UserID)
	return ContextWithUserID(ctx, claims.UserID)
}
