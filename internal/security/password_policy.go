package security

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxPasswordBytes はbcryptが受け付ける入力の上限バイト数。
const MaxPasswordBytes = 72

// defaultDenylist はよく使われる弱いパスワード。大文字小文字を区別せずに照合する。
var defaultDenylist = []string{
	"password123",
	"12345678",
	"qwerty123",
	"admin123",
	"letmein123",
}

// PolicyViolationError はパスワードポリシー違反の理由を表す。
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return e.Reason
}

// PasswordPolicy はパスワード強度の要件。
type PasswordPolicy struct {
	MinLength int
	denylist  map[string]struct{}
}

// NewPasswordPolicy はPasswordPolicyを生成する。
// minLengthが1未満の場合は8を使う。
func NewPasswordPolicy(minLength int) *PasswordPolicy {
	if minLength < 1 {
		minLength = 8
	}
	deny := make(map[string]struct{}, len(defaultDenylist))
	for _, p := range defaultDenylist {
		deny[p] = struct{}{}
	}
	return &PasswordPolicy{
		MinLength: minLength,
		denylist:  deny,
	}
}

// Validate はパスワードがポリシーを満たすかを検証する。
// 違反時は*PolicyViolationErrorを返す。
func (p *PasswordPolicy) Validate(password string) error {
	if len([]rune(password)) < p.MinLength {
		return &PolicyViolationError{Reason: fmt.Sprintf("パスワードは%d文字以上にしてください", p.MinLength)}
	}
	if len(password) > MaxPasswordBytes {
		return &PolicyViolationError{Reason: fmt.Sprintf("パスワードは%dバイト以下にしてください", MaxPasswordBytes)}
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsSpace(r):
		default:
			hasSymbol = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return &PolicyViolationError{Reason: "パスワードには大文字・小文字・数字・記号をそれぞれ1文字以上含めてください"}
	}

	if _, denied := p.denylist[strings.ToLower(password)]; denied {
		return &PolicyViolationError{Reason: "よく使われるパスワードは使用できません"}
	}
	return nil
}
