package domain

import "time"

// InboundMessage is the canonical form of a provider webhook payload: the
// stable sender key plus whatever text and media the message carried.
type InboundMessage struct {
	UserKey     string
	Body        string
	NumMedia    int
	MediaURL    string
	ContentType string
	ReceivedAt  time.Time
}

// HasMedia reports whether at least one attachment came with the message.
func (m InboundMessage) HasMedia() bool { return m.NumMedia > 0 }
