package models

import "time"

// SnapshotItem is the durable form of a QueueItem. Prefetch state is not
// persisted: a resumed item re-resolves or re-downloads as needed.
type SnapshotItem struct {
	OriginalInput string            `json:"original_input"`
	ResolvedURL   string            `json:"resolved_url"`
	Title         string            `json:"title"`
	MediaType     MediaType         `json:"media_type"`
	IsLive        bool              `json:"is_live"`
	Headers       map[string]string `json:"headers,omitempty"`
	RequestedBy   string            `json:"requested_by"`
}

// PlaybackSnapshot is the periodically written resume record. It is overwritten
// wholesale on each save by a single writer and read once at process start.
// A snapshot whose LastActiveAt is older than the freshness window is
// discarded unread.
type PlaybackSnapshot struct {
	Items          []SnapshotItem `json:"items"`
	Cursor         int            `json:"cursor"`
	LastActiveAt   time.Time      `json:"last_active_at"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	Channels       SinkChannels   `json:"channels"`
}

// Current returns the snapshot entry the cursor points at, or nil.
func (s *PlaybackSnapshot) Current() *SnapshotItem {
	if s == nil || s.Cursor < 0 || s.Cursor >= len(s.Items) {
		return nil
	}
	return &s.Items[s.Cursor]
}

// SnapshotItemFrom converts a live queue item into its durable form.
func SnapshotItemFrom(item *QueueItem) SnapshotItem {
	return SnapshotItem{
		OriginalInput: item.OriginalInput,
		ResolvedURL:   item.ResolvedURL,
		Title:         item.Title,
		MediaType:     item.MediaType,
		IsLive:        item.IsLive,
		Headers:       item.Headers,
		RequestedBy:   item.RequestedBy,
	}
}
