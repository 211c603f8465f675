package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, reset, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeTokenUsed          = "TOKEN_USED"
	ErrCodeTokenNotFound      = "TOKEN_NOT_FOUND"
	ErrCodeTokenMismatch      = "TOKEN_MISMATCH"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ユーザーの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewTokenExpiredError はリセットトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "リセットトークンの有効期限が切れています。",
		Category: "reset",
		Action:   "パスワードリセットを再度申請してください。",
	}
}

// NewTokenUsedError はリセットトークン使用済みエラーを生成する。
func NewTokenUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenUsed,
		Message:  "リセットトークンは既に使用されています。",
		Category: "reset",
		Action:   "パスワードリセットを再度申請してください。",
	}
}

// NewTokenNotFoundError はリセットトークン不正エラーを生成する。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotFound,
		Message:  "リセットトークンが無効です。",
		Category: "reset",
		Action:   "メールに記載されたリンクをもう一度開いてください。",
	}
}

// NewTokenMismatchError はリセットトークンとメールアドレスの不一致エラーを生成する。
func NewTokenMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenMismatch,
		Message:  "リセットトークンと指定されたメールアドレスが一致しません。",
		Category: "reset",
		Action:   "リセットを申請したメールアドレスを入力してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
// セッショントークンの署名不正・期限切れ・形式不正はすべてこのエラーに集約する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotFoundError はAPIルート未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "指定されたリソースが見つかりません。",
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログにのみ記録し、クライアントには返さない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
