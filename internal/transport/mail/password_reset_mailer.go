package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// PasswordResetMailer delivers the reset secret over SMTP, either as a bare
// secret or as a clickable frontend link when a base URL is configured.
type PasswordResetMailer struct {
	host        string
	port        string
	username    string
	password    string
	from        string
	frontendURL string
}

func NewPasswordResetMailer(host, port, username, password, from, frontendURL string) *PasswordResetMailer {
	return &PasswordResetMailer{
		host:        strings.TrimSpace(host),
		port:        strings.TrimSpace(port),
		username:    username,
		password:    password,
		from:        strings.TrimSpace(from),
		frontendURL: strings.TrimRight(strings.TrimSpace(frontendURL), "/"),
	}
}

func (m *PasswordResetMailer) SendPasswordReset(ctx context.Context, email, secret string) error {
	if m == nil {
		return errors.New("mailer not configured")
	}
	if m.host == "" || m.port == "" || m.from == "" {
		return errors.New("mailer missing configuration")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	subject := "Reset your Kredit account password"
	var body string
	if m.frontendURL != "" {
		body = fmt.Sprintf("Open the link below to choose a new password:\n\n%s/reset-password?token=%s\n\nThe link expires shortly. If you did not request this, ignore this email.", m.frontendURL, secret)
	} else {
		body = fmt.Sprintf("Use the following code to reset your password: %s\n\nThe code expires shortly. If you did not request this, ignore this email.", secret)
	}

	message := strings.Builder{}
	message.WriteString(fmt.Sprintf("From: %s\r\n", m.from))
	message.WriteString(fmt.Sprintf("To: %s\r\n", email))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	message.WriteString(body)
	message.WriteString("\r\n")

	addr := net.JoinHostPort(m.host, m.port)
	var auth smtp.Auth
	if m.username != "" || m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{email}, []byte(message.String()))
}
