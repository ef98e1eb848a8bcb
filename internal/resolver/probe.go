package resolver

import (
	"context"
	"mime"
	"net/http"
	"time"
)

const probeTimeout = 5 * time.Second

// HTTPProber asks a direct URL for a display title via a HEAD request,
// preferring the Content-Disposition filename. Probing is strictly
// best-effort: any failure just means the caller derives a title from the URL.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with its own short-timeout client.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: probeTimeout}}
}

// Probe returns a title for rawURL, or "" when the server offers none.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return titleFromPath(name), nil
			}
		}
	}
	return "", nil
}
