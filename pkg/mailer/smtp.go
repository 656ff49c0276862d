package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/bytesfield/schedula/configs"
	"github.com/bytesfield/schedula/internal/domain"
)

type SMTPDispatcher struct {
	addr     string
	from     string
	fromName string
	auth     smtp.Auth

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPDispatcher(cfg configs.EmailConfig) *SMTPDispatcher {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return &SMTPDispatcher{
		addr:     cfg.SMTPHost + ":" + cfg.SMTPPort,
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (d *SMTPDispatcher) Dispatch(_ context.Context, data domain.SendEmailData) (*domain.DispatchResponse, error) {
	msg := d.buildMessage(data)

	if err := d.sendMail(d.addr, d.auth, d.from, []string{data.Recipient}, []byte(msg)); err != nil {
		return nil, fmt.Errorf("smtp send to %s: %w", data.Recipient, err)
	}

	slog.Info("SMTP email sent successfully", "recipient", data.Recipient)
	return &domain.DispatchResponse{StatusCode: 250, Body: "accepted"}, nil
}

func (d *SMTPDispatcher) buildMessage(data domain.SendEmailData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", d.fromName, d.from)
	fmt.Fprintf(&b, "To: %s\r\n", data.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", data.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(data.HTMLContent)
	b.WriteString("\r\n")
	return b.String()
}
