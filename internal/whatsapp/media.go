package whatsapp

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

const maxMediaBytes = 16 << 20

// Media is a downloaded attachment ready for upload.
type Media struct {
	Data     []byte
	Mimetype string
}

// MediaFetcher downloads reply attachments referenced by URL. WhatsApp
// needs the encrypted bytes uploaded, so URLs cannot be passed through.
type MediaFetcher struct {
	client *http.Client
}

func NewMediaFetcher(client *http.Client) *MediaFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaFetcher{client: client}
}

func (f *MediaFetcher) Fetch(ctx context.Context, url string) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch media %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch media: read body: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("fetch media %s: larger than %d bytes", url, maxMediaBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch media %s: empty body", url)
	}

	return &Media{Data: data, Mimetype: mediaType(resp.Header.Get("Content-Type"), data)}, nil
}

func mediaType(header string, data []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	return http.DetectContentType(data)
}
