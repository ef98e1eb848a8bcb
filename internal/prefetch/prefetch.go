// Package prefetch downloads eligible queue items in the background the moment
// they are enqueued, so playback usually finds a local copy ready. The
// background task races user-triggered playback: the orchestrator uses the
// completed path if there is one, awaits a pending download otherwise, and
// falls back to a synchronous fetch when the background task failed. Enqueue
// is never blocked by a slow download.
package prefetch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/spf13/afero"

	"github.com/mbeck712/troubadour/internal/cache"
	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

// Downloader fetches a remote target into a local file.
type Downloader interface {
	Download(ctx context.Context, target, dest string) error
}

// Prefetcher attaches background downloads to queue items.
type Prefetcher struct {
	dl    Downloader
	cache *cache.Cache
	fs    afero.Fs
	log   zerolog.Logger
}

// New creates a prefetcher. fs must be the same filesystem the cache writes to.
func New(dl Downloader, fileCache *cache.Cache, fs afero.Fs) *Prefetcher {
	return &Prefetcher{
		dl:    dl,
		cache: fileCache,
		fs:    fs,
		log:   logger.With("prefetch"),
	}
}

// Eligible reports whether an item gets a background download. Live streams
// have nothing to download ahead of time, and non-platform sources are played
// directly from their URL.
func Eligible(item *models.QueueItem) bool {
	return item.MediaType == models.MediaTypeYouTube && !item.IsLive
}

// Attach spawns one background download for the item. It is idempotent: an
// item that already carries a handle is left alone. Failures are recorded on
// the handle, never surfaced; playback falls back to a synchronous fetch.
func (p *Prefetcher) Attach(item *models.QueueItem) {
	if !Eligible(item) {
		return
	}

	target := item.ResolvedURL
	attached := item.AttachPrefetch(func() *mo.Future[string] {
		return mo.NewFuture(func(resolve func(string), reject func(error)) {
			path, err := p.fetch(context.Background(), target)
			if err != nil {
				p.log.Debug().Err(err).Str("target", target).Msg("Background download failed")
				reject(err)
				return
			}
			resolve(path)
		})
	})

	if attached {
		p.log.Debug().
			Int64("item_id", item.ID).
			Str("target", target).
			Msg("Prefetch attached")
	}
}

// Consume returns the fastest available local copy for an item: a completed
// path, then an awaited pending download, then a synchronous fetch. The await
// carries no extra timeout; it is bounded by the same download the fallback
// would run.
func (p *Prefetcher) Consume(ctx context.Context, item *models.QueueItem) (string, error) {
	if path := item.LocalPath(); path != "" {
		return path, nil
	}

	if fut := item.PrefetchFuture(); fut != nil {
		if path, err := fut.Collect(); err == nil {
			item.SetLocalPath(path)
			return path, nil
		}
		// Background download failed; redo synchronously
	}

	path, err := p.fetch(ctx, item.ResolvedURL)
	if err != nil {
		return "", err
	}
	item.SetLocalPath(path)
	return path, nil
}

// fetch downloads target into the cache, or returns the cached copy. Partial
// downloads land next to the final path and are renamed in only on success.
func (p *Prefetcher) fetch(ctx context.Context, target string) (string, error) {
	key := cache.Key(target)
	if path, ok := p.cache.Get(ctx, key); ok {
		return path, nil
	}

	final := p.cache.Path(key)
	partial := final + ".part"

	if err := p.dl.Download(ctx, target, partial); err != nil {
		_ = p.fs.Remove(partial)
		return "", fmt.Errorf("download failed for %s: %w", target, err)
	}

	info, err := p.fs.Stat(partial)
	if err != nil {
		return "", fmt.Errorf("downloaded file missing for %s: %w", target, err)
	}
	if err := p.fs.Rename(partial, final); err != nil {
		return "", fmt.Errorf("failed to finalize download for %s: %w", target, err)
	}

	if err := p.cache.Put(ctx, key, info.Size()); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Failed to index downloaded file")
	}
	return final, nil
}
