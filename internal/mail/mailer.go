// Package mail はパスワードリセットリンクのメール送信を提供する。
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"gopkg.in/gomail.v2"
)

const resetSubject = "パスワードリセットのご案内"

// Mailer はリセットリンクの配送インターフェース。
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sender はgomail.Dialerの送信部分。テストで差し替える。
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer はgomailでSMTP送信するMailer。
type SMTPMailer struct {
	sender sender
	from   string
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// SendPasswordReset はリセットリンクを送信する。
// ctxがキャンセルされた場合は送信完了を待たずにエラーを返す。
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	msg := buildResetMessage(m.from, to, resetURL)

	done := make(chan error, 1)
	go func() {
		done <- m.sender.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send password reset email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send password reset email: %w", ctx.Err())
	}
}

func buildResetMessage(from, to, resetURL string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", resetSubject)
	msg.SetBody("text/plain", fmt.Sprintf(
		"パスワードリセットのリクエストを受け付けました。\n"+
			"以下のリンクから新しいパスワードを設定してください。\n\n%s\n\n"+
			"このリクエストに心当たりがない場合は、このメールを破棄してください。\n", resetURL))
	msg.AddAlternative("text/html", fmt.Sprintf(
		`<p>パスワードリセットのリクエストを受け付けました。</p>`+
			`<p><a href="%s">新しいパスワードを設定する</a></p>`+
			`<p>このリクエストに心当たりがない場合は、このメールを破棄してください。</p>`, html.EscapeString(resetURL)))
	return msg
}

// LogMailer は送信せずにログへ記録するだけのMailer。
// SMTPが未設定の開発環境で使う。リンクはトークンを含むため出力しない。
type LogMailer struct {
	Logger *slog.Logger
}

// SendPasswordReset は送信先のみをログに記録する。
func (m LogMailer) SendPasswordReset(_ context.Context, to, _ string) error {
	l := m.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("password reset mail not sent: SMTP is not configured",
		slog.String("to", to),
	)
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = LogMailer{}
)
