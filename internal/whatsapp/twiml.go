package whatsapp

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// WriteTwiML writes body as a synchronous TwiML message reply. Twilio sends
// the rendered message back to the user on the same webhook round trip.
func WriteTwiML(w http.ResponseWriter, body string) error {
	payload, err := xml.Marshal(twimlResponse{Message: body})
	if err != nil {
		return fmt.Errorf("marshal twiml: %w", err)
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
