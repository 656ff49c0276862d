// Package mailer implements the notification dispatcher over concrete email
// providers. Each Dispatch call is a single delivery attempt; retry policy
// belongs to the execution engine.
package mailer

import (
	"errors"

	"github.com/bytesfield/schedula/configs"
	"github.com/bytesfield/schedula/internal/domain"
)

// NewDispatcher selects the provider configured via EMAIL_PROVIDER.
func NewDispatcher(cfg configs.EmailConfig) (domain.NotificationDispatcher, error) {
	switch cfg.Provider {
	case "smtp":
		return NewSMTPDispatcher(cfg), nil
	case "sendgrid":
		return NewSendgridDispatcher(cfg.SendgridAPIKey, cfg.FromAddress, cfg.FromName), nil
	default:
		return nil, errors.New("unrecognized email provider: " + cfg.Provider)
	}
}
