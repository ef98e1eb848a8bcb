package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

const extractorUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// EmbedExtractor loads an embed-hosting page in a headless browser and
// intercepts the media URL the page requests. The whole extraction runs under
// one fixed timeout; a page that loads but never requests media is treated
// as protected content.
type EmbedExtractor struct {
	timeout time.Duration
}

// NewEmbedExtractor creates an extractor with the given per-page timeout.
func NewEmbedExtractor(timeout time.Duration) *EmbedExtractor {
	return &EmbedExtractor{timeout: timeout}
}

// Extract navigates to pageURL and returns the first media response observed,
// together with the Referer/User-Agent pair the host requires.
func (e *EmbedExtractor) Extract(ctx context.Context, pageURL string) (*models.MediaSource, error) {
	deadline, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	browser := rod.New().Context(deadline)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			logger.Log.Debug().Err(err).Msg("Browser close failed")
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	var mediaURL string
	wait := page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if isMediaResponse(ev.Response) {
			mediaURL = ev.Response.URL
			return true
		}
		return false
	})

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}
	wait()

	if mediaURL == "" {
		// The page rendered but held its media back
		return nil, ErrProtectedContent
	}

	title := pageURL
	if info, err := page.Info(); err == nil && info.Title != "" {
		title = info.Title
	}

	return &models.MediaSource{
		URL:   mediaURL,
		Title: title,
		Type:  models.MediaTypeURL,
		Headers: map[string]string{
			"Referer":    pageURL,
			"User-Agent": extractorUserAgent,
		},
	}, nil
}

// isMediaResponse reports whether a network response looks like streamable
// media rather than page scaffolding.
func isMediaResponse(resp *proto.NetworkResponse) bool {
	if resp == nil {
		return false
	}
	mime := strings.ToLower(resp.MIMEType)
	if strings.HasPrefix(mime, "video/") || strings.HasPrefix(mime, "audio/") {
		return true
	}
	if strings.Contains(mime, "mpegurl") {
		return true
	}
	return strings.Contains(resp.URL, ".m3u8") || strings.Contains(resp.URL, ".mp4")
}
