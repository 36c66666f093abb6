package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"mailsched/config"
)

// SMTPTransport sends through a single SMTP relay using PLAIN auth.
type SMTPTransport struct {
	addr string
	auth smtp.Auth
}

func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPTransport{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
	}
}

// Send delivers the message in a single SMTP transaction. net/smtp carries
// no context support, so the transaction runs in its own goroutine and the
// wait is abandoned when ctx expires; an abandoned transaction still runs
// to completion on the wire.
func (t *SMTPTransport) Send(ctx context.Context, subject, body, from string, to []string) error {
	msg := buildMessage(subject, body, from, to)

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(t.addr, t.auth, from, to, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(subject, body, from string, to []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
