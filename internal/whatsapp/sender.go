package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender delivers an outbound WhatsApp message, optionally with one media
// attachment.
type Sender interface {
	Send(ctx context.Context, to, body, mediaURL string) error
}

// TwilioSender sends through the Twilio messages API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
	logger *slog.Logger
}

// NewTwilioSender builds a sender. from is the business WhatsApp number
// without the whatsapp: prefix.
func NewTwilioSender(accountSID, authToken, from string, logger *slog.Logger) *TwilioSender {
	return &TwilioSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from:   "whatsapp:" + from,
		logger: logger,
	}
}

func (s *TwilioSender) Send(ctx context.Context, to, body, mediaURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	status := ""
	if resp.Status != nil {
		status = *resp.Status
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.Info("message handed to twilio", "sid", sid, "status", status)

	// Twilio reports queued/sent/delivered for accepted messages.
	if status == "failed" || status == "undelivered" {
		return fmt.Errorf("message %s rejected with status %s", sid, status)
	}
	return nil
}
