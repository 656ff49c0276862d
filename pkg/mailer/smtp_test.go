package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bytesfield/schedula/configs"
	"github.com/bytesfield/schedula/internal/domain"
)

func TestSMTPDispatch_BuildsMessageAndSends(t *testing.T) {
	d := NewSMTPDispatcher(configs.EmailConfig{
		SMTPHost:    "mail.example.com",
		SMTPPort:    "587",
		FromAddress: "noreply@example.com",
		FromName:    "Schedula",
	})

	var gotAddr, gotFrom, gotMsg string
	var gotTo []string
	d.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	resp, err := d.Dispatch(context.Background(), domain.SendEmailData{
		Recipient:   "dana@example.com",
		Subject:     "Task Executed Notification",
		HTMLContent: "<p>done</p>",
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(250), resp.StatusCode)
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"dana@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "From: Schedula <noreply@example.com>\r\n")
	assert.Contains(t, gotMsg, "Subject: Task Executed Notification\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html; charset=\"UTF-8\"\r\n")
	assert.Contains(t, gotMsg, "<p>done</p>")
}

func TestSMTPDispatch_SendError(t *testing.T) {
	d := NewSMTPDispatcher(configs.EmailConfig{SMTPHost: "mail.example.com", SMTPPort: "587"})
	d.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	resp, err := d.Dispatch(context.Background(), domain.SendEmailData{Recipient: "dana@example.com"})
	assert.Nil(t, resp)
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewDispatcher_ProviderSelection(t *testing.T) {
	d, err := NewDispatcher(configs.EmailConfig{Provider: "smtp", SMTPHost: "mail.example.com", SMTPPort: "587"})
	assert.NoError(t, err)
	assert.IsType(t, &SMTPDispatcher{}, d)

	d, err = NewDispatcher(configs.EmailConfig{Provider: "sendgrid", SendgridAPIKey: "SG.test"})
	assert.NoError(t, err)
	assert.IsType(t, &SendgridDispatcher{}, d)

	_, err = NewDispatcher(configs.EmailConfig{Provider: "pigeon"})
	assert.Error(t, err)
}
