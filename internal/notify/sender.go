package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers an email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// ResendSender sends email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a sender for the given API key and From address.
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(strings.TrimSpace(apiKey)), from: from}
}

func (s *ResendSender) Send(ctx context.Context, email Email) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}
	return nil
}
