package domain

import "context"

// SendEmailData is the rendered message handed to a dispatcher.
type SendEmailData struct {
	Recipient   string
	Subject     string
	HTMLContent string
}

// DispatchResponse carries the provider's reply, captured on the
// notification attempt whether delivery succeeded or failed.
type DispatchResponse struct {
	StatusCode int32
	Body       string
}

// NotificationDispatcher attempts delivery exactly once per call. Retries
// live in the execution engine, not here.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, data SendEmailData) (*DispatchResponse, error)
}

// ContentRenderer renders a named template with variables. Pure, no side
// effects.
type ContentRenderer interface {
	Render(templateName string, vars map[string]string) (string, error)
}
