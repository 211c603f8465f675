// Package token はセッション用JWTの発行と検証を提供する。
//
// セッションはサーバー側に保存しない。署名と有効期限の検証のみで
// 有効性を判断するため、検証時にストレージへの問い合わせは発生しない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLifetime はセッショントークンのデフォルト有効期間。
const DefaultLifetime = 24 * time.Hour

var (
	// ErrInvalidSignature は署名が一致しない、または許可されていない署名方式であることを表す。
	ErrInvalidSignature = errors.New("token signature is invalid")

	// ErrExpired は現在時刻が有効期限以降であることを表す。
	ErrExpired = errors.New("token has expired")

	// ErrMalformed はトークンを解析できない、または必須クレームが欠けていることを表す。
	ErrMalformed = errors.New("token is malformed")
)

// Profile はセッショントークンに埋め込むユーザー属性。
type Profile struct {
	Email string
	Name  string
}

// Claims はセッショントークンのクレーム。
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssuerConfig はIssuerの設定。
type IssuerConfig struct {
	Secret   []byte
	Lifetime time.Duration
	Issuer   string
	// Now は現在時刻を返す。nilの場合はtime.Nowを使う。
	Now func() time.Time
}

// Issuer はHS256で署名したセッショントークンを発行・検証する。
type Issuer struct {
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
	parser   *jwt.Parser
}

// NewIssuer はIssuerを生成する。
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Issuer{
		secret:   cfg.Secret,
		lifetime: lifetime,
		issuer:   cfg.Issuer,
		now:      now,
		parser:   jwt.NewParser(opts...),
	}, nil
}

// Lifetime はトークンの有効期間を返す。
func (i *Issuer) Lifetime() time.Duration {
	return i.lifetime
}

// Issue はuserIDを埋め込んだトークンを発行する。
// 有効期限は発行時点で now + Lifetime に固定される。
func (i *Issuer) Issue(userID string, profile Profile) (string, *Claims, error) {
	if userID == "" {
		return "", nil, errors.New("token: user ID is required")
	}

	now := i.now()
	claims := &Claims{
		UserID: userID,
		Email:  profile.Email,
		Name:   profile.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify はトークンの署名と有効期限を検証してクレームを返す。
// 失敗時はErrInvalidSignature、ErrExpired、ErrMalformedのいずれかを返す。
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, ErrMalformed
	}
	return claims, nil
}

// classify はjwtライブラリのエラーをパッケージのエラー種別に変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// Reason はVerifyのエラーをメトリクス用のラベルに変換する。
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "malformed"
	}
}
