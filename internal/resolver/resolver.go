// Package resolver turns arbitrary input strings into playable media sources.
// Strategies are tried in a fixed priority order; the first match wins. The
// resolver fails soft: backend errors degrade to "no source", never to a fault
// the caller has to handle, so the orchestrator can fall back to treating raw
// input as an opaque URL. The one distinguishable failure is
// ErrProtectedContent, which callers report differently.
package resolver

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

// ErrProtectedContent marks a page that embeds media but will not hand out a
// streamable URL; the requester has to open it manually.
var ErrProtectedContent = errors.New("content is protected and must be viewed in a browser")

var (
	youtubeRe = regexp.MustCompile(`(?i)(?:youtube\.com/(?:watch|shorts/|live/)|youtu\.be/)`)
	twitchRe  = regexp.MustCompile(`(?i)twitch\.tv/\w+`)
)

// defaultEmbedDomains lists hosts whose pages hide the media URL behind
// scripting, requiring headless extraction.
var defaultEmbedDomains = []string{
	"streamable.com",
	"streamff.com",
	"streamja.com",
	"dubz.co",
}

// PlatformClient resolves hosted-platform links via the external resolution
// CLI. Implementations are treated as unreliable: any error is degraded to a
// failed resolution.
type PlatformClient interface {
	Lookup(ctx context.Context, target string) (*models.MediaSource, error)
	Search(ctx context.Context, query string) (*models.MediaSource, error)
	StreamURL(ctx context.Context, target string) (string, map[string]string, error)
}

// PageExtractor intercepts the media URL behind an embed-hosting page.
type PageExtractor interface {
	Extract(ctx context.Context, pageURL string) (*models.MediaSource, error)
}

// MetadataProber fetches a best-effort title for a direct URL.
type MetadataProber interface {
	Probe(ctx context.Context, rawURL string) (string, error)
}

// Resolver dispatches inputs across resolution strategies.
type Resolver struct {
	platform     PlatformClient
	extractor    PageExtractor
	prober       MetadataProber
	fs           afero.Fs
	embedDomains []string
	log          zerolog.Logger
}

// New creates a resolver. fs is consulted for the local-file strategy.
func New(platform PlatformClient, extractor PageExtractor, prober MetadataProber, fs afero.Fs) *Resolver {
	return &Resolver{
		platform:     platform,
		extractor:    extractor,
		prober:       prober,
		fs:           fs,
		embedDomains: defaultEmbedDomains,
		log:          logger.With("resolver"),
	}
}

// Resolve maps input to a playable source, or nil when nothing matched or a
// backend failed. The only non-nil error ever returned is ErrProtectedContent.
func (r *Resolver) Resolve(ctx context.Context, input string) (*models.MediaSource, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}

	switch {
	case youtubeRe.MatchString(input):
		return r.resolveYouTube(ctx, input), nil
	case twitchRe.MatchString(input):
		return r.resolveTwitch(ctx, input), nil
	case r.isEmbedHost(input):
		return r.resolveEmbed(ctx, input)
	case r.isLocalPath(input):
		return r.resolveLocal(input), nil
	case isAbsoluteURL(input):
		return r.resolveDirect(ctx, input), nil
	default:
		return r.resolveSearch(ctx, input), nil
	}
}

// resolveYouTube resolves a hosted-platform link. The stable watch URL is kept
// as the playable URL; live streams get a sub-resolution step for the direct
// segment URL, which expires and is re-resolved again at play time.
func (r *Resolver) resolveYouTube(ctx context.Context, input string) *models.MediaSource {
	src, err := r.platform.Lookup(ctx, input)
	if err != nil {
		r.log.Warn().Err(err).Str("input", input).Msg("YouTube lookup failed")
		return nil
	}
	src.Type = models.MediaTypeYouTube

	if src.IsLive {
		streamURL, headers, err := r.platform.StreamURL(ctx, input)
		if err != nil {
			r.log.Warn().Err(err).Str("input", input).Msg("Live stream sub-resolution failed")
			return nil
		}
		src.URL = streamURL
		src.Headers = headers
	}
	return src
}

func (r *Resolver) resolveTwitch(ctx context.Context, input string) *models.MediaSource {
	streamURL, headers, err := r.platform.StreamURL(ctx, input)
	if err != nil {
		r.log.Warn().Err(err).Str("input", input).Msg("Twitch resolution failed")
		return nil
	}
	return &models.MediaSource{
		URL:     streamURL,
		Title:   channelFromTwitchURL(input),
		Type:    models.MediaTypeTwitch,
		IsLive:  true,
		Headers: headers,
	}
}

// resolveEmbed is expensive (headless browser); callers cache the result on
// the originating queue item rather than re-running it on replay.
func (r *Resolver) resolveEmbed(ctx context.Context, input string) (*models.MediaSource, error) {
	src, err := r.extractor.Extract(ctx, input)
	if err != nil {
		if errors.Is(err, ErrProtectedContent) {
			return nil, err
		}
		r.log.Warn().Err(err).Str("input", input).Msg("Embed extraction failed")
		return nil, nil
	}
	return src, nil
}

func (r *Resolver) resolveLocal(input string) *models.MediaSource {
	return &models.MediaSource{
		URL:   input,
		Title: titleFromPath(input),
		Type:  models.MediaTypeLocal,
	}
}

// resolveDirect treats the input as an opaque playable URL, probing for a
// title but never failing the resolution over it.
func (r *Resolver) resolveDirect(ctx context.Context, input string) *models.MediaSource {
	title, err := r.prober.Probe(ctx, input)
	if err != nil || title == "" {
		title = titleFromPath(input)
	}
	return &models.MediaSource{
		URL:   input,
		Title: title,
		Type:  models.MediaTypeURL,
	}
}

func (r *Resolver) resolveSearch(ctx context.Context, input string) *models.MediaSource {
	src, err := r.platform.Search(ctx, input)
	if err != nil {
		r.log.Warn().Err(err).Str("query", input).Msg("Search resolution failed")
		return nil
	}
	src.Type = models.MediaTypeYouTube
	return src
}

func (r *Resolver) isEmbedHost(input string) bool {
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return lo.Contains(r.embedDomains, host)
}

func (r *Resolver) isLocalPath(input string) bool {
	if isAbsoluteURL(input) {
		return false
	}
	ok, err := afero.Exists(r.fs, input)
	return err == nil && ok
}

func isAbsoluteURL(input string) bool {
	u, err := url.Parse(input)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// titleFromPath derives a display title from the last path segment.
func titleFromPath(raw string) string {
	segment := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		segment = u.Path
	}
	if i := strings.LastIndexByte(segment, '/'); i != -1 {
		segment = segment[i+1:]
	}
	if i := strings.LastIndexByte(segment, '.'); i > 0 {
		segment = segment[:i]
	}
	if segment == "" {
		return raw
	}
	return segment
}

func channelFromTwitchURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.Trim(u.Path, "/")
}
