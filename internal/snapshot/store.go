// Package snapshot persists the playback state for crash resume. One JSON
// record at a fixed path, overwritten wholesale on every save; there is never
// more than one writer (the orchestrator's control loop).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

// Store reads and writes the playback snapshot file.
type Store struct {
	fs       afero.Fs
	path     string
	freshFor time.Duration
}

// New creates a store writing to path. Snapshots older than freshFor are
// discarded unread on load.
func New(fs afero.Fs, path string, freshFor time.Duration) *Store {
	return &Store{fs: fs, path: path, freshFor: freshFor}
}

// Save overwrites the snapshot file. The write goes to a temp file first and
// is renamed into place so a crash mid-write never leaves a torn record.
func (s *Store) Save(snap *models.PlaybackSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load returns the saved snapshot, or nil when none exists, the record is
// unreadable, or it is older than the freshness window. A stale or corrupt
// snapshot is removed so it is never offered again.
func (s *Store) Load() (*models.PlaybackSnapshot, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap models.PlaybackSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Log.Warn().Err(err).Str("path", s.path).Msg("Discarding corrupt snapshot")
		_ = s.Clear()
		return nil, nil
	}

	if time.Since(snap.LastActiveAt) > s.freshFor {
		logger.Log.Info().
			Time("last_active_at", snap.LastActiveAt).
			Dur("fresh_for", s.freshFor).
			Msg("Discarding stale snapshot")
		_ = s.Clear()
		return nil, nil
	}

	return &snap, nil
}

// Clear removes the snapshot file if present.
func (s *Store) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}
