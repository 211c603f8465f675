package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ResetTokenBytes はリセットトークンの乱数バイト数（256ビット）。
const ResetTokenBytes = 32

// GenerateToken は暗号論的乱数からnバイトのトークンを生成し、16進文字列で返す。
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DigestToken はトークンのSHA-256ダイジェストを16進文字列で返す。
// DBにはこの値のみを保存する。
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
