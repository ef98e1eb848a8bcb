package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeck712/troubadour/internal/db"
)

// setupTestCache creates a cache over an in-memory filesystem and a temp database
func setupTestCache(t *testing.T, maxBytes int64) (*Cache, afero.Fs, func()) {
	tmpFile := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(tmpFile)
	require.NoError(t, err)

	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(sqlDB, "file://../../migrations"))

	fs := afero.NewMemMapFs()
	c, err := New(fs, database, "/cache", maxBytes)
	require.NoError(t, err)

	cleanup := func() {
		_ = database.Close()
	}
	return c, fs, cleanup
}

func writeCached(t *testing.T, c *Cache, fs afero.Fs, url string, size int) string {
	key := Key(url)
	require.NoError(t, afero.WriteFile(fs, c.Path(key), make([]byte, size), 0o644))
	require.NoError(t, c.Put(context.Background(), key, int64(size)))
	return key
}

func TestKey_StableAndDistinct(t *testing.T) {
	assert.Equal(t, Key("https://a"), Key("https://a"))
	assert.NotEqual(t, Key("https://a"), Key("https://b"))
}

func TestPutAndGet(t *testing.T) {
	c, fs, cleanup := setupTestCache(t, 1024)
	defer cleanup()

	key := writeCached(t, c, fs, "https://example.com/track", 100)

	path, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, c.Path(key), path)
}

func TestGet_MissingFileDropsStaleIndexRow(t *testing.T) {
	c, fs, cleanup := setupTestCache(t, 1024)
	defer cleanup()

	key := writeCached(t, c, fs, "https://example.com/track", 100)
	require.NoError(t, fs.Remove(c.Path(key)))

	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)

	total, err := c.TotalBytes(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGet_UnknownKey(t *testing.T) {
	c, _, cleanup := setupTestCache(t, 1024)
	defer cleanup()

	_, ok := c.Get(context.Background(), Key("https://nowhere"))
	assert.False(t, ok)
}

func TestEvict_OldestAccessFirst(t *testing.T) {
	c, fs, cleanup := setupTestCache(t, 250)
	defer cleanup()

	ctx := context.Background()
	first := writeCached(t, c, fs, "https://example.com/1", 100)

	// Make the first entry clearly older, then refresh it so the second
	// entry becomes the eviction candidate.
	time.Sleep(10 * time.Millisecond)
	second := writeCached(t, c, fs, "https://example.com/2", 100)
	time.Sleep(10 * time.Millisecond)
	c.Touch(ctx, first)

	// Third entry pushes the total over the cap; second should go.
	writeCached(t, c, fs, "https://example.com/3", 100)

	_, ok := c.Get(ctx, first)
	assert.True(t, ok, "recently touched entry survives")
	_, ok = c.Get(ctx, second)
	assert.False(t, ok, "least recently accessed entry is evicted")

	total, err := c.TotalBytes(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(250))
}
