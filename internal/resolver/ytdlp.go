package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

const searchPrefix = "ytsearch1:"

// YtdlpClient shells out to yt-dlp for metadata lookup, search, direct stream
// URLs, and downloads. The tool may hang or emit malformed data; every call
// degrades to an error the resolver swallows rather than propagating raw
// failures.
type YtdlpClient struct {
	Bin        string
	CookieFile string
}

// NewYtdlpClient creates a client for the given binary path. cookieFile may be
// empty.
func NewYtdlpClient(bin, cookieFile string) *YtdlpClient {
	return &YtdlpClient{Bin: bin, CookieFile: cookieFile}
}

// ytdlpInfo is the subset of yt-dlp's JSON dump the resolver cares about.
type ytdlpInfo struct {
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	WebpageURL  string            `json:"webpage_url"`
	IsLive      bool              `json:"is_live"`
	Duration    float64           `json:"duration"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// Lookup fetches metadata for a platform link without downloading.
func (c *YtdlpClient) Lookup(ctx context.Context, target string) (*models.MediaSource, error) {
	info, err := c.dumpJSON(ctx, target)
	if err != nil {
		return nil, err
	}

	// The stable webpage URL outlives any signed media URL
	playable := info.WebpageURL
	if playable == "" {
		playable = target
	}
	return &models.MediaSource{
		URL:     playable,
		Title:   info.Title,
		IsLive:  info.IsLive,
		Headers: info.HTTPHeaders,
	}, nil
}

// Search resolves a free-text query to the first matching result's page.
func (c *YtdlpClient) Search(ctx context.Context, query string) (*models.MediaSource, error) {
	info, err := c.dumpJSON(ctx, searchPrefix+query)
	if err != nil {
		return nil, err
	}
	if info.WebpageURL == "" {
		return nil, fmt.Errorf("no results for query %q", query)
	}
	return &models.MediaSource{
		URL:    info.WebpageURL,
		Title:  info.Title,
		IsLive: info.IsLive,
	}, nil
}

// StreamURL returns a direct (typically signed and expiring) media URL plus
// the request headers it must be fetched with.
func (c *YtdlpClient) StreamURL(ctx context.Context, target string) (string, map[string]string, error) {
	info, err := c.dumpJSON(ctx, target)
	if err != nil {
		return "", nil, err
	}
	if info.URL == "" {
		return "", nil, fmt.Errorf("no direct media URL for %s", target)
	}
	return info.URL, info.HTTPHeaders, nil
}

// Download fetches the best audio for target into dest, blocking until done.
func (c *YtdlpClient) Download(ctx context.Context, target, dest string) error {
	args := []string{
		"--no-playlist",
		"--format", "bestaudio/best",
		"--output", dest,
	}
	args = c.appendCookieArgs(args)
	args = append(args, target)

	cmd := exec.CommandContext(ctx, c.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp download failed: %w: %s", err, firstLine(stderr.String()))
	}
	return nil
}

func (c *YtdlpClient) dumpJSON(ctx context.Context, target string) (*ytdlpInfo, error) {
	args := []string{
		"--dump-json",
		"--no-download",
		"--no-playlist",
		"--format", "bestaudio/best",
	}
	args = c.appendCookieArgs(args)
	args = append(args, target)

	cmd := exec.CommandContext(ctx, c.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		logger.Log.Debug().
			Err(err).
			Str("target", target).
			Str("stderr", firstLine(stderr.String())).
			Msg("yt-dlp lookup failed")
		return nil, fmt.Errorf("yt-dlp failed for %s: %w", target, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp returned malformed data for %s: %w", target, err)
	}
	return &info, nil
}

func (c *YtdlpClient) appendCookieArgs(args []string) []string {
	if c.CookieFile != "" {
		return append(args, "--cookies", c.CookieFile)
	}
	return args
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}
