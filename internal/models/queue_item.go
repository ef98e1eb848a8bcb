package models

import (
	"sync"
	"time"

	"github.com/samber/mo"
)

// QueueItem is one requested playback unit. The ID is assigned at insertion,
// is unique for the queue's lifetime and is never reused, so removal by ID is
// safe even after positions have shifted.
//
// The prefetch handle is exclusively owned by the item: the prefetcher attaches
// it once, the orchestrator consumes it, and it is cleared when the item leaves
// the queue.
type QueueItem struct {
	ID            int64             `json:"id"`
	OriginalInput string            `json:"original_input"`
	ResolvedURL   string            `json:"resolved_url"`
	Title         string            `json:"title"`
	MediaType     MediaType         `json:"media_type"`
	IsLive        bool              `json:"is_live"`
	Headers       map[string]string `json:"headers,omitempty"`
	RequestedBy   string            `json:"requested_by"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`

	mu        sync.Mutex
	prefetch  *mo.Future[string]
	localPath string
}

// NewQueueItem builds an item from a resolved source. The caller (the queue)
// assigns the ID.
func NewQueueItem(source MediaSource, requestedBy, originalInput string) *QueueItem {
	return &QueueItem{
		OriginalInput: originalInput,
		ResolvedURL:   source.URL,
		Title:         source.Title,
		MediaType:     source.Type,
		IsLive:        source.IsLive,
		Headers:       source.Headers,
		RequestedBy:   requestedBy,
		EnqueuedAt:    time.Now().UTC(),
	}
}

// Source reconstructs the resolved MediaSource for this item.
func (i *QueueItem) Source() MediaSource {
	return MediaSource{
		URL:     i.ResolvedURL,
		Title:   i.Title,
		Type:    i.MediaType,
		IsLive:  i.IsLive,
		Headers: i.Headers,
	}
}

// AttachPrefetch stores a background download future on the item, creating it
// through the factory only when no handle exists yet. The check-and-set runs
// under the item lock, so at most one download is ever started per item;
// re-attaching is a no-op and returns false.
func (i *QueueItem) AttachPrefetch(create func() *mo.Future[string]) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.prefetch != nil {
		return false
	}
	i.prefetch = create()
	return true
}

// PrefetchFuture returns the in-flight download handle, if any.
func (i *QueueItem) PrefetchFuture() *mo.Future[string] {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.prefetch
}

// SetLocalPath records the completed download location.
func (i *QueueItem) SetLocalPath(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.localPath = path
}

// LocalPath returns the completed download location, or "" if none.
func (i *QueueItem) LocalPath() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.localPath
}

// ClearPrefetch drops the prefetch handle, for items removed before playback.
func (i *QueueItem) ClearPrefetch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.prefetch = nil
	i.localPath = ""
}
