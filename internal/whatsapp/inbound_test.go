package whatsapp

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound_TextMessage(t *testing.T) {
	form := url.Values{
		"From":     {"whatsapp:+15551234567"},
		"Body":     {"hello"},
		"NumMedia": {"0"},
	}
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseInbound(req)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+15551234567", msg.UserKey)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, 0, msg.NumMedia)
	assert.False(t, msg.HasMedia())
	assert.False(t, msg.ReceivedAt.IsZero())
}

func TestParseInbound_MediaMessage(t *testing.T) {
	form := url.Values{
		"From":              {"whatsapp:+15551234567"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/abc"},
		"MediaContentType0": {"image/jpeg"},
	}
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseInbound(req)
	require.NoError(t, err)
	assert.True(t, msg.HasMedia())
	assert.Equal(t, "https://api.twilio.com/media/abc", msg.MediaURL)
	assert.Equal(t, "image/jpeg", msg.ContentType)
}

func TestParseInbound_MissingFrom(t *testing.T) {
	form := url.Values{"Body": {"hello"}}
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := ParseInbound(req)
	assert.ErrorIs(t, err, ErrMissingSender)
}

func TestParseInbound_BadNumMedia(t *testing.T) {
	form := url.Values{
		"From":     {"whatsapp:+15551234567"},
		"NumMedia": {"not-a-number"},
	}
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := ParseInbound(req)
	assert.Error(t, err)
}

func TestWriteTwiML(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteTwiML(rec, "Hi there & welcome"))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Response><Message>Hi there &amp; welcome</Message></Response>")
}
