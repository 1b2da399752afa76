package exam

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

type InviteMailer interface {
	SendInvite(ctx context.Context, email, examTitle, link string) error
}

type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// NewSMTPMailer returns nil when SMTP is not configured; invitations then
// end up in the failed list of ActivateAndInvite.
func NewSMTPMailer(cfg SMTPConfig) InviteMailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPMailer{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
	}
}

func (m *SMTPMailer) SendInvite(ctx context.Context, email, examTitle, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	subject := mime.QEncoding.Encode("utf-8", "Einladung zur Prüfung: "+examTitle)
	body := fmt.Sprintf("Sie wurden zur Prüfung %q eingeladen.\n\nZur Teilnahme: %s\n", examTitle, link)
	msg := "From: " + m.from + "\r\n" +
		"To: " + email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body + "\r\n"

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send invite: %w", err)
	}
	return nil
}
