package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// minJWTSecretLength はHS256署名鍵として受け入れる最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// App
	AppEnv   string
	LogLevel string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session (JWT)
	JWTSecret     string
	JWTIssuer     string
	SessionMaxAge int // セッションの有効期間（秒）。JWTのexpとCookieのMax-Ageの両方に使う

	// Password
	BcryptCost        int
	PasswordMinLength int

	// Password reset
	ResetTokenTTL time.Duration

	// Rate Limit
	RateLimitAuth       int           // 認証エンドポイントの許容回数（ウィンドウあたり、IP単位）
	RateLimitAuthWindow time.Duration // 認証エンドポイントのウィンドウ幅
	RateLimitGeneral    int           // 認証済みAPIの許容回数（1分あたり、ユーザー単位）

	// Mail
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	MailSendTimeout time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Proxy
	TrustProxy bool // trueのときのみX-Forwarded-For等からクライアントIPを決定する
}

// IsProduction は本番環境で起動しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SessionLifetime はセッションの有効期間をtime.Durationで返す。
func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// SMTPEnabled はSMTP送信が設定されているかを返す。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "authgate")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", 8)
	cfg.ResetTokenTTL = getEnvDuration("RESET_TOKEN_TTL", time.Hour)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 5)
	cfg.RateLimitAuthWindow = getEnvDuration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "no-reply@authgate.local")
	cfg.MailSendTimeout = getEnvDuration("MAIL_SEND_TIMEOUT", 10*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://") || cfg.IsProduction()
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TrustProxy = getEnvBool("TRUSTED_PROXY", false)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
