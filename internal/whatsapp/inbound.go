// Package whatsapp speaks Twilio's WhatsApp surface: webhook form parsing,
// TwiML replies, authenticated media download, and outbound sends.
package whatsapp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

// ErrMissingSender is returned when the webhook form has no From field.
var ErrMissingSender = errors.New("webhook form missing From field")

// ParseInbound reads the Twilio webhook form fields off an incoming request.
func ParseInbound(r *http.Request) (domain.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("parse webhook form: %w", err)
	}

	from := r.PostFormValue("From")
	if from == "" {
		return domain.InboundMessage{}, ErrMissingSender
	}

	numMedia := 0
	if raw := r.PostFormValue("NumMedia"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.InboundMessage{}, fmt.Errorf("parse NumMedia %q: %w", raw, err)
		}
		numMedia = n
	}

	return domain.InboundMessage{
		UserKey:     from,
		Body:        r.PostFormValue("Body"),
		NumMedia:    numMedia,
		MediaURL:    r.PostFormValue("MediaUrl0"),
		ContentType: r.PostFormValue("MediaContentType0"),
		ReceivedAt:  time.Now().UTC(),
	}, nil
}
