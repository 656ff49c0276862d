package mailer

import (
	"context"
	"fmt"
	"log/slog"

	sendgridgo "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/bytesfield/schedula/internal/domain"
)

type SendgridDispatcher struct {
	client     *sendgridgo.Client
	sender     string
	senderName string
}

func NewSendgridDispatcher(apiKey, sender, senderName string) *SendgridDispatcher {
	return &SendgridDispatcher{
		client:     sendgridgo.NewSendClient(apiKey),
		sender:     sender,
		senderName: senderName,
	}
}

func (d *SendgridDispatcher) Dispatch(ctx context.Context, data domain.SendEmailData) (*domain.DispatchResponse, error) {
	from := mail.NewEmail(d.senderName, d.sender)
	to := mail.NewEmail(data.Recipient, data.Recipient)
	message := mail.NewSingleEmail(from, data.Subject, to, "", data.HTMLContent)

	resp, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("sendgrid send to %s: %w", data.Recipient, err)
	}

	dispatchResp := &domain.DispatchResponse{
		StatusCode: int32(resp.StatusCode),
		Body:       resp.Body,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Sendgrid rejected the email", "recipient", data.Recipient,
			"status_code", resp.StatusCode, "response", resp.Body)
		return dispatchResp, fmt.Errorf("sendgrid responded with status %d", resp.StatusCode)
	}

	slog.Info("Sendgrid email sent successfully", "recipient", data.Recipient)
	return dispatchResp, nil
}
