package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/guard"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Guard             *guard.Guard
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TrustProxy        bool // リバースプロキシ配下でのみtrueにする

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS → SessionGuard
//
// RealIPはTrustProxyがtrueのときのみ適用する。falseの場合はRemoteAddrをそのままクライアントIPとして扱い、
// クライアントが送るX-Forwarded-For等のヘッダーは無視する。
//
// セッションガードは全ルートに適用する。/api/auth/*、/health、/metricsはガードの対象外。
// 認証エンドポイントには追加でIP単位のレート制限を、/api/meにはユーザー単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()

	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionGuardMiddleware(deps.Guard))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証API ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/request-reset", authHandler.RequestReset)
			r.Post("/reset-password", authHandler.ResetPassword)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/verify", authHandler.Verify)
	})

	// --- 認証が必要なAPI ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Get("/api/me", userHandler.Me)
	})

	// --- ページ ---
	for path, data := range pages {
		r.Get(path, newPageHandler(data))
	}

	r.NotFound(notFound)

	return r
}

// notFound は/api/配下ではJSONの404を、それ以外ではテキストの404を返す。
func notFound(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
		return
	}
	http.NotFound(w, r)
}
