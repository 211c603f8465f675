// Package auth は登録・ログイン・ログアウト・パスワードリセットの業務フローを提供する。
//
// 下位層のエラーはすべてここで*model.APIErrorに変換し、
// ストアやライブラリのエラーがそのままクライアントに届くことはない。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/mail"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/reset"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
)

// dummyPassword はユーザーが存在しない場合の照合に使う固定値。
const dummyPassword = "authgate-timing-equalizer"

// defaultMailTimeout はリセットメール送信のデフォルトのタイムアウト。
const defaultMailTimeout = 10 * time.Second

// TokenIssuer はセッショントークンの発行・検証インターフェース。
type TokenIssuer interface {
	Issue(userID string, profile token.Profile) (string, *token.Claims, error)
	Verify(raw string) (*token.Claims, error)
}

// ResetManager はリセットトークンのライフサイクル管理インターフェース。
type ResetManager interface {
	Request(ctx context.Context, email string) (*reset.RequestResult, error)
	Validate(ctx context.Context, raw string) (string, error)
	Consume(ctx context.Context, raw, userID, newPasswordHash string) error
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"max=100"`
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// ResetPasswordInput はパスワード再設定の入力。
type ResetPasswordInput struct {
	Token       string `validate:"required"`
	Email       string `validate:"required,email,max=254"`
	NewPassword string `validate:"required"`
}

type requestResetInput struct {
	Email string `validate:"required,email,max=254"`
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token     string
	User      *model.User
	ExpiresAt time.Time
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// BaseURL はリセットリンクの組み立てに使う公開URL。
	BaseURL string
	// MailTimeout はリセットメール送信1件あたりの上限時間。
	MailTimeout time.Duration
}

// Deps はServiceの依存関係。
type Deps struct {
	Users     repository.UserRepository
	Issuer    TokenIssuer
	Resets    ResetManager
	Hasher    security.PasswordHasher
	Policy    *security.PasswordPolicy
	Sanitizer security.InputSanitizer
	Mailer    mail.Mailer
	Metrics   metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	issuer    TokenIssuer
	resets    ResetManager
	hasher    security.PasswordHasher
	policy    *security.PasswordPolicy
	sanitizer security.InputSanitizer
	mailer    mail.Mailer
	metrics   metrics.MetricsCollector
	validate  *validator.Validate
	config    ServiceConfig
	dummyHash string

	mailWG sync.WaitGroup
}

// NewService はServiceを生成する。
// Policy・Sanitizer・Mailer・Metricsがnilの場合は既定の実装を使う。
func NewService(deps Deps, config ServiceConfig) *Service {
	if deps.Policy == nil {
		deps.Policy = security.NewPasswordPolicy(0)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewInputSanitizer()
	}
	if deps.Mailer == nil {
		deps.Mailer = mail.LogMailer{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = defaultMailTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	// 存在しないユーザーの照合用ハッシュ。ログイン時には生成しない
	var dummyHash string
	if deps.Hasher != nil {
		h, err := deps.Hasher.Hash(dummyPassword)
		if err != nil {
			slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
		}
		dummyHash = h
	}

	return &Service{
		users:     deps.Users,
		issuer:    deps.Issuer,
		resets:    deps.Resets,
		hasher:    deps.Hasher,
		policy:    deps.Policy,
		sanitizer: deps.Sanitizer,
		mailer:    deps.Mailer,
		metrics:   deps.Metrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		config:    config,
		dummyHash: dummyHash,
	}
}

// Register はユーザーを登録する。
// メールアドレスが既に登録済みの場合はDUPLICATE_EMAILを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	user, err := s.register(ctx, in)
	if err != nil {
		s.metrics.RecordRegistration(metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.RecordRegistration(metrics.OutcomeSuccess)
	return user, nil
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Email = s.sanitizer.NormalizeEmail(in.Email)
	in.Name = s.sanitizer.SanitizeText(in.Name)

	if err := s.validate.Struct(in); err != nil {
		return nil, translateValidationError(err)
	}
	if err := s.policy.Validate(in.Password); err != nil {
		return nil, translatePolicyError(err)
	}

	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, storeError("failed to check existing user", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, storeError("failed to hash password", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 事前チェックと挿入の間に同じメールアドレスが登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, storeError("failed to create user", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return publicUser(user), nil
}

// Login はメールアドレスとパスワードを照合し、セッショントークンを発行する。
// ユーザーが存在しない場合もパスワード不一致と同じエラーを返す。
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	res, err := s.login(ctx, in)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	return res, nil
}

func (s *Service) login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = s.sanitizer.NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, translateValidationError(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, storeError("failed to find user", err)
	}
	if user == nil {
		// 応答時間からユーザーの存在を推測されないよう照合を1回行う
		_, _ = s.hasher.Verify(in.Password, s.dummyHash)
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, storeError("failed to verify password", err)
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	raw, claims, err := s.issuer.Issue(user.ID, token.Profile{Email: user.Email, Name: user.Name})
	if err != nil {
		return nil, storeError("failed to issue session token", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &LoginResult{
		Token:     raw,
		User:      publicUser(user),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout はログアウトを記録する。
// セッションはサーバー側に保存していないため無効化は行わない。
func (s *Service) Logout(_ context.Context, rawToken string) {
	if rawToken == "" {
		return
	}
	if claims, err := s.issuer.Verify(rawToken); err == nil {
		slog.Info("user logged out", slog.String("user_id", claims.UserID))
	}
}

// Verify はセッショントークンを検証してクレームを返す。
// 検証失敗はすべてUNAUTHENTICATEDになる。
func (s *Service) Verify(_ context.Context, rawToken string) (*token.Claims, error) {
	claims, err := s.issuer.Verify(rawToken)
	if err != nil {
		s.metrics.RecordSessionVerifyFailure(token.Reason(err))
		return nil, model.NewUnauthenticatedError()
	}
	return claims, nil
}

// CurrentUser はユーザーIDに対応するユーザーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError("failed to find user", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return publicUser(user), nil
}

// RequestPasswordReset はリセットトークンを発行し、リンクをメールで送る。
// アカウントが存在しない場合も成功として扱い、呼び出し側の応答を区別させない。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = s.sanitizer.NormalizeEmail(email)
	if err := s.validate.Struct(requestResetInput{Email: email}); err != nil {
		return translateValidationError(err)
	}
	s.metrics.RecordResetRequest()

	res, err := s.resets.Request(ctx, email)
	if err != nil {
		return storeError("failed to request password reset", err)
	}
	if !res.Issued() {
		slog.Debug("password reset requested for unknown email")
		return nil
	}

	s.sendResetMail(res.User.Email, s.resetURL(res.Token, res.User.Email))
	slog.Info("password reset token issued",
		slog.String("user_id", res.User.ID),
		slog.Time("expires_at", res.ExpiresAt),
	)
	return nil
}

// ResetPassword はリセットトークンを消費して新しいパスワードを設定する。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	err := s.resetPassword(ctx, in)
	s.metrics.RecordResetResult(resetOutcome(err))
	return err
}

func (s *Service) resetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Email = s.sanitizer.NormalizeEmail(in.Email)
	in.Token = strings.TrimSpace(in.Token)
	if err := s.validate.Struct(in); err != nil {
		return translateValidationError(err)
	}
	if err := s.policy.Validate(in.NewPassword); err != nil {
		return translatePolicyError(err)
	}

	ownerID, err := s.resets.Validate(ctx, in.Token)
	if err != nil {
		return translateResetError(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return storeError("failed to find user", err)
	}
	if user == nil || user.ID != ownerID {
		return model.NewTokenMismatchError()
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return storeError("failed to hash password", err)
	}

	if err := s.resets.Consume(ctx, in.Token, user.ID, hash); err != nil {
		return translateResetError(err)
	}

	slog.Info("password reset completed", slog.String("user_id", user.ID))
	return nil
}

// WaitForMail は送信中のリセットメールがすべて終わるまで待つ。
// シャットダウン時とテストで使う。
func (s *Service) WaitForMail() {
	s.mailWG.Wait()
}

// sendResetMail はリセットメールをバックグラウンドで送信する。
// 送信失敗はログに記録するだけで呼び出し元には返さない。
func (s *Service) sendResetMail(to, link string) {
	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.MailTimeout)
		defer cancel()
		if err := s.mailer.SendPasswordReset(ctx, to, link); err != nil {
			slog.Error("failed to deliver password reset mail",
				slog.String("to", to),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *Service) resetURL(rawToken, email string) string {
	q := url.Values{}
	q.Set("token", rawToken)
	q.Set("email", email)
	return s.config.BaseURL + "/reset-password?" + q.Encode()
}

// publicUser はパスワードハッシュを除いたコピーを返す。
func publicUser(u *model.User) *model.User {
	cp := *u
	cp.PasswordHash = ""
	return &cp
}

// storeError は内部エラーをログに記録し、クライアント向けの汎用エラーを返す。
func storeError(msg string, err error) error {
	slog.Error(msg, slog.String("error", err.Error()))
	return model.NewInternalError()
}

func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return model.NewValidationError(describeField(fe))
	}
	return model.NewValidationError(err.Error())
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if field == "newpassword" {
		field = "password"
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%sは必須です", field)
	case "email":
		return fmt.Sprintf("%sの形式が正しくありません", field)
	case "max":
		return fmt.Sprintf("%sは%s文字以下にしてください", field, fe.Param())
	default:
		return fmt.Sprintf("%sが正しくありません", field)
	}
}

func translatePolicyError(err error) error {
	var pv *security.PolicyViolationError
	if errors.As(err, &pv) {
		return model.NewValidationError(pv.Reason)
	}
	return model.NewValidationError(err.Error())
}

func translateResetError(err error) error {
	switch {
	case errors.Is(err, reset.ErrTokenNotFound):
		return model.NewTokenNotFoundError()
	case errors.Is(err, reset.ErrTokenUsed):
		return model.NewTokenUsedError()
	case errors.Is(err, reset.ErrTokenExpired):
		return model.NewTokenExpiredError()
	case errors.Is(err, reset.ErrTokenMismatch):
		return model.NewTokenMismatchError()
	default:
		return storeError("failed to reset password", err)
	}
}

// resetOutcome はリセット結果のメトリクスラベルを返す。
func resetOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return metrics.OutcomeFailure
}
