// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

const (
	msgLoggedOut      = "Logged out successfully"
	msgTokenValid     = "Token is valid"
	msgResetRequested = "If an account exists with this email, a reset link will be sent."
	msgPasswordReset  = "Password updated successfully"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	Logout(ctx context.Context, rawToken string)
	Verify(ctx context.Context, rawToken string) (*token.Claims, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in auth.ResetPasswordInput) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// userResponse はユーザー情報のレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

// claimsResponse はセッショントークンのクレームのレスポンス。
type claimsResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type verifyResponse struct {
	Message string         `json:"message"`
	User    claimsResponse `json:"user"`
}

type requestResetRequest struct {
	Email string `json:"email"`
}

// resetPasswordRequest はパスワード再設定のリクエスト。
// 新しいパスワードは password と newPassword のどちらでも受け付ける。
type resetPasswordRequest struct {
	Token       string `json:"token"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

// Register はユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userEnvelope{User: toUserResponse(user)})
}

// Login は認証に成功したらセッションCookieを設定する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, err)
		return
	}

	res, err := h.service.Login(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, res.Token, h.config.SessionMaxAge)
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(res.User)})
}

// Logout はセッションCookieを失効させる。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		h.service.Logout(r.Context(), cookie.Value)
	}

	h.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

// Verify はセッションCookieのトークンを検証してクレームを返す。
// GET /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	claims, err := h.service.Verify(r.Context(), cookie.Value)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := verifyResponse{
		Message: msgTokenValid,
		User: claimsResponse{
			ID:    claims.UserID,
			Email: claims.Email,
			Name:  claims.Name,
		},
	}
	if claims.ExpiresAt != nil {
		resp.User.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

// RequestReset はパスワードリセットを申請する。
// アカウントの有無にかかわらず同じ応答を返す。
// POST /api/auth/request-reset
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req requestResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetRequested})
}

// ResetPassword はリセットトークンを使ってパスワードを再設定する。
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	newPassword := req.Password
	if newPassword == "" {
		newPassword = req.NewPassword
	}

	err := h.service.ResetPassword(r.Context(), auth.ResetPasswordInput{
		Token:       req.Token,
		Email:       req.Email,
		NewPassword: newPassword,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("password reset completed")
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordReset})
}

// setSessionCookie はセッションCookieを書き込む。maxAgeが負の場合は削除になる。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
