// Package models defines the core data structures shared across the application.
package models

// MediaType identifies which resolution strategy produced a playable source
type MediaType string

// Media type constants
const (
	MediaTypeYouTube MediaType = "youtube"
	MediaTypeTwitch  MediaType = "twitch"
	MediaTypeLocal   MediaType = "local"
	MediaTypeURL     MediaType = "generic-url"
)

// String returns the string representation of the media type
func (t MediaType) String() string {
	return string(t)
}

// IsValid checks if the media type is a known valid value
func (t MediaType) IsValid() bool {
	switch t {
	case MediaTypeYouTube, MediaTypeTwitch, MediaTypeLocal, MediaTypeURL:
		return true
	default:
		return false
	}
}

// MediaSource is a resolved, concretely playable descriptor produced by the resolver.
// Headers, when present, are forwarded verbatim to the transport: some hosts only
// serve the media URL when the Referer/User-Agent pair matches the page that
// embedded it.
type MediaSource struct {
	URL     string            `json:"url"`
	Title   string            `json:"title"`
	Type    MediaType         `json:"type"`
	IsLive  bool              `json:"is_live"`
	Headers map[string]string `json:"headers,omitempty"`
}
