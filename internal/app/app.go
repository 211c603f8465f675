// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/guard"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/mail"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/reset"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// 読み込み後はLOG_LEVELに従ってログレベルを設定し直す。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// サポート外のサブコマンドでは使い方を表示してErrUnknownCommandを返す。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		Usage(w)
		return err
	}
	if cmd == CommandHelp {
		Usage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はserveモードで組み立てた依存関係を保持する。
type server struct {
	handler http.Handler
	auth    *auth.Service
	limiter *middleware.RateLimiter
}

// close はバックグラウンド処理の終了を待つ。
func (s *server) close() {
	s.auth.WaitForMail()
	s.limiter.Stop()
}

// newServer はDB接続から全依存関係をワイヤリングする。
func newServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*server, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	resetRepo := repository.NewPostgresResetTokenRepo(db)
	uow := repository.NewPostgresUnitOfWork(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. トークンとリセットの管理
	issuer, err := token.NewIssuer(token.IssuerConfig{
		Secret:   []byte(cfg.JWTSecret),
		Lifetime: cfg.SessionLifetime(),
		Issuer:   cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	resets := reset.NewManager(userRepo, resetRepo, uow, reset.Config{TTL: cfg.ResetTokenTTL})

	// 4. 認証サービス
	authService := auth.NewService(auth.Deps{
		Users:     userRepo,
		Issuer:    issuer,
		Resets:    resets,
		Hasher:    security.NewBcryptHasher(cfg.BcryptCost),
		Policy:    security.NewPasswordPolicy(cfg.PasswordMinLength),
		Sanitizer: security.NewInputSanitizer(),
		Mailer:    newMailer(cfg),
		Metrics:   collector,
	}, auth.ServiceConfig{
		BaseURL:     cfg.BaseURL,
		MailTimeout: cfg.MailSendTimeout,
	})

	// 5. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitAuth, cfg.RateLimitAuthWindow, cfg.RateLimitGeneral,
	))

	router := handler.NewRouter(&handler.RouterDeps{
		Guard:             guard.New(issuer, guard.DefaultRules(), collector),
		Logger:            slog.Default(),
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		TrustProxy:        cfg.TrustProxy,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		UserService: authService,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	})

	return &server{handler: router, auth: authService, limiter: limiter}, nil
}

// newMailer はSMTP_HOSTが設定されていればSMTP送信を、なければログ出力のみのMailerを返す。
func newMailer(cfg *config.Config) mail.Mailer {
	if !cfg.SMTPEnabled() {
		slog.Warn("SMTP_HOST is not set, reset links will not be delivered")
		return mail.LogMailer{Logger: slog.Default()}
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	srv, err := newServer(cfg, db, newRegistry())
	if err != nil {
		return err
	}
	defer srv.close()

	// 3. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
