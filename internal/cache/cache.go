// Package cache stores prefetched media files on disk, indexed in SQLite so
// eviction can run by least-recent access without scanning the directory.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/mbeck712/troubadour/internal/db"
	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

// Cache is the prefetch file cache. Files are keyed by the hash of the URL
// they were downloaded from; the index tracks sizes and access times, and
// eviction keeps the total under maxBytes, oldest access first. The file
// holding the currently playing track is always a fresh Touch, so eviction
// never races playback in practice.
type Cache struct {
	fs       afero.Fs
	database *db.DB
	dir      string
	maxBytes int64
}

// New creates the cache directory if needed and returns a ready cache.
func New(fs afero.Fs, database *db.DB, dir string, maxBytes int64) (*Cache, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{fs: fs, database: database, dir: dir, maxBytes: maxBytes}, nil
}

// Key derives the cache key for a source URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Path returns the on-disk location for a cache key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key)
}

// Get returns the path for a key if the file is present, bumping its access
// time. A missing index row with a present file (or vice versa) counts as a
// miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	var track models.CachedTrack
	err := c.database.WithContext(ctx).First(&track, "hash = ?", key).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Log.Warn().Err(err).Str("key", key).Msg("Cache index lookup failed")
		}
		return "", false
	}

	path := c.Path(key)
	if ok, err := afero.Exists(c.fs, path); err != nil || !ok {
		// Index row without a file; drop the stale row
		c.database.WithContext(ctx).Delete(&models.CachedTrack{}, "hash = ?", key)
		return "", false
	}

	c.Touch(ctx, key)
	return path, true
}

// Touch bumps the access time for a key.
func (c *Cache) Touch(ctx context.Context, key string) {
	err := c.database.WithContext(ctx).
		Model(&models.CachedTrack{}).
		Where("hash = ?", key).
		Update("accessed_at", time.Now().UTC()).Error
	if err != nil {
		logger.Log.Warn().Err(err).Str("key", key).Msg("Failed to touch cache entry")
	}
}

// Put records a completed download in the index and evicts as needed.
// The caller has already written the file to Path(key).
func (c *Cache) Put(ctx context.Context, key string, bytes int64) error {
	now := time.Now().UTC()
	track := models.CachedTrack{
		Hash:       key,
		Bytes:      bytes,
		CreatedAt:  now,
		AccessedAt: now,
	}

	if err := c.database.WithContext(ctx).Save(&track).Error; err != nil {
		return fmt.Errorf("failed to index cached file: %w", err)
	}

	return c.evict(ctx)
}

// TotalBytes returns the indexed size of the cache.
func (c *Cache) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	err := c.database.WithContext(ctx).
		Model(&models.CachedTrack{}).
		Select("COALESCE(SUM(bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum cache size: %w", err)
	}
	return total, nil
}

// evict removes least-recently-accessed entries until the cache fits under
// the byte cap.
func (c *Cache) evict(ctx context.Context) error {
	total, err := c.TotalBytes(ctx)
	if err != nil {
		return err
	}

	for total > c.maxBytes {
		var oldest models.CachedTrack
		err := c.database.WithContext(ctx).
			Order("accessed_at ASC").
			First(&oldest).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to find eviction candidate: %w", err)
		}

		if err := c.fs.Remove(c.Path(oldest.Hash)); err != nil {
			logger.Log.Warn().
				Err(err).
				Str("key", oldest.Hash).
				Msg("Failed to remove evicted cache file")
		}
		if err := c.database.WithContext(ctx).
			Delete(&models.CachedTrack{}, "hash = ?", oldest.Hash).Error; err != nil {
			return fmt.Errorf("failed to delete eviction candidate: %w", err)
		}

		logger.Log.Debug().
			Str("key", oldest.Hash).
			Int64("bytes", oldest.Bytes).
			Msg("Evicted cached track")

		total -= oldest.Bytes
	}
	return nil
}
