package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Twilio media redirects to a CDN URL, so the client must follow redirects.
// Images above this size are rejected rather than buffered.
const maxMediaBytes = 16 << 20

// MediaDownloader fetches message attachments from Twilio's media API,
// which requires account credentials via basic auth.
type MediaDownloader struct {
	httpClient *http.Client
	accountSID string
	authToken  string
}

func NewMediaDownloader(accountSID, authToken string) *MediaDownloader {
	return &MediaDownloader{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
	}
}

// Download returns the attachment bytes behind url.
func (d *MediaDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.SetBasicAuth(d.accountSID, d.authToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if len(body) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d byte limit", maxMediaBytes)
	}
	return body, nil
}
