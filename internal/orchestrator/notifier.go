package orchestrator

import "github.com/mbeck712/troubadour/internal/models"

// Notifier receives the user-facing playback notifications. The chat layer
// implements it; every failure and track change produces exactly one call.
// Implementations must not call back into the orchestrator.
type Notifier interface {
	NowPlaying(item *models.QueueItem)
	PlaybackFailed(item *models.QueueItem, cause error)
	QueueFinished()
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) NowPlaying(*models.QueueItem)            {}
func (NopNotifier) PlaybackFailed(*models.QueueItem, error) {}
func (NopNotifier) QueueFinished()                          {}
