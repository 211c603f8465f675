// Package security は認証まわりのセキュリティ機能を提供する。
//
// パスワードのハッシュ化、パスワードポリシーの検証、
// ユーザー入力のサニタイズ、推測不能なトークンの生成を扱う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はユーザー入力（メールアドレス・表示名）を
// 描画先でのインジェクションに使えない形に正規化するインターフェース。
type InputSanitizer interface {
	// SanitizeText はHTMLタグを除去し、残った山括弧を削除して前後の空白を落とす。
	SanitizeText(s string) string

	// NormalizeEmail はSanitizeTextの結果を小文字化する。
	NormalizeEmail(email string) string
}

// inputSanitizer はInputSanitizerの実装。
// bluemondayのStrictPolicyで全タグを除去する。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// angleBrackets はタグ除去後にも残りうる山括弧を除去する。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// NewInputSanitizer はInputSanitizerの新しいインスタンスを生成する。
func NewInputSanitizer() InputSanitizer {
	return &inputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はHTMLタグを除去した平文を返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
func (s *inputSanitizer) SanitizeText(in string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(in))
	return strings.TrimSpace(angleBrackets.Replace(stripped))
}

// NormalizeEmail はメールアドレスをサニタイズして小文字化する。
func (s *inputSanitizer) NormalizeEmail(email string) string {
	return strings.ToLower(s.SanitizeText(email))
}
