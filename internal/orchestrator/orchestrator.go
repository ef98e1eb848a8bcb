// Package orchestrator owns the playback state machine: it joins and leaves
// the sink, prepares sources, drives the pipeline, detects completion and
// failure, advances the queue, and persists resumable snapshots.
//
// All state transitions run under one control mutex, so the invariants (one
// active pipeline, one cancellation token, one cursor) hold by construction.
// Background work (prefetch downloads, the pipeline monitor, the snapshot
// ticker, the idle timer) re-enters through that same mutex and never mutates
// queue or status directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
	"github.com/mbeck712/troubadour/internal/pipeline"
	"github.com/mbeck712/troubadour/internal/queue"
	"github.com/mbeck712/troubadour/internal/resolver"
	"github.com/mbeck712/troubadour/internal/sink"
	"github.com/mbeck712/troubadour/internal/snapshot"
)

// SourceResolver maps an arbitrary input string to a playable source. A nil
// source with a nil error means nothing matched; the orchestrator then falls
// back to treating the raw input as an opaque URL.
type SourceResolver interface {
	Resolve(ctx context.Context, input string) (*models.MediaSource, error)
}

// LiveResolver re-resolves a live source's expiring stream URL at play time.
type LiveResolver interface {
	StreamURL(ctx context.Context, target string) (string, map[string]string, error)
}

// Prefetcher manages background downloads attached to queue items.
type Prefetcher interface {
	Attach(item *models.QueueItem)
	Consume(ctx context.Context, item *models.QueueItem) (string, error)
}

// Config holds the orchestrator timings.
type Config struct {
	IdleDisconnect   time.Duration
	SnapshotInterval time.Duration
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Queue      *queue.Queue
	Resolver   SourceResolver
	Live       LiveResolver
	Prefetcher Prefetcher
	Sink       sink.Sink
	Runner     pipeline.Runner
	Snapshots  *snapshot.Store
	Notifier   Notifier
}

// attempt is one playback attempt: one item, one cancellation token, one
// pipeline handle. Tokens are never reused across attempts; a stale attempt's
// monitor recognizes itself by pointer identity and backs off.
type attempt struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	item   *models.QueueItem
	seek   int

	// written under the control mutex once streaming starts
	handle    pipeline.Handle
	startedAt time.Time

	mu        sync.Mutex
	streamErr error
}

func (a *attempt) setStreamErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.streamErr == nil {
		a.streamErr = err
	}
}

func (a *attempt) getStreamErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamErr
}

// elapsedSeconds is the playback position, counting the resume offset.
func (a *attempt) elapsedSeconds() int {
	if a.startedAt.IsZero() {
		return a.seek
	}
	return a.seek + int(time.Since(a.startedAt).Seconds())
}

// Orchestrator is the single mutator of playback state.
type Orchestrator struct {
	mu sync.Mutex

	queue     *queue.Queue
	resolver  SourceResolver
	live      LiveResolver
	prefetch  Prefetcher
	sink      sink.Sink
	runner    pipeline.Runner
	snapshots *snapshot.Store
	notifier  Notifier
	cfg       Config

	state   State
	status  models.StreamStatus
	attempt *attempt
	failed  map[string]FailureKind

	skipInFlight bool
	idleTimer    *time.Timer

	done chan struct{}
	log  zerolog.Logger
}

// New creates an orchestrator and starts its snapshot ticker. Call Close to
// stop background work.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if cfg.IdleDisconnect <= 0 {
		cfg.IdleDisconnect = 10 * time.Minute
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 10 * time.Second
	}

	o := &Orchestrator{
		queue:     deps.Queue,
		resolver:  deps.Resolver,
		live:      deps.Live,
		prefetch:  deps.Prefetcher,
		sink:      deps.Sink,
		runner:    deps.Runner,
		snapshots: deps.Snapshots,
		notifier:  deps.Notifier,
		cfg:       cfg,
		state:     StateIdle,
		failed:    make(map[string]FailureKind),
		done:      make(chan struct{}),
		log:       logger.With("orchestrator"),
	}
	go o.snapshotLoop()
	return o
}

// Close stops the snapshot ticker and any pending idle timer. It does not
// stop playback; call Stop first for a full teardown.
func (o *Orchestrator) Close() {
	close(o.done)
	o.mu.Lock()
	o.stopIdleTimerLocked()
	o.mu.Unlock()
}

// Enqueue resolves an input and appends it to the queue. Resolution fails
// soft: an unresolvable input is treated as an opaque playable URL and sorted
// out at play time. The one hard failure is protected content, which is
// reported distinctly and never enqueued.
func (o *Orchestrator) Enqueue(ctx context.Context, input, requestedBy string) (*models.QueueItem, error) {
	src, err := o.resolver.Resolve(ctx, input)
	if err != nil {
		if errors.Is(err, resolver.ErrProtectedContent) {
			o.mu.Lock()
			o.failed[input] = FailureProtected
			o.mu.Unlock()
			return nil, newPlaybackError(FailureProtected, input, err)
		}
		return nil, newPlaybackError(FailureResolution, input, err)
	}
	if src == nil {
		o.log.Debug().Str("input", input).Msg("Resolution found nothing, treating input as a direct URL")
		src = &models.MediaSource{URL: input, Title: input, Type: models.MediaTypeURL}
	}

	item := o.queue.Enqueue(*src, requestedBy, input)
	o.prefetch.Attach(item)

	o.log.Info().
		Int64("item_id", item.ID).
		Str("title", item.Title).
		Str("media_type", item.MediaType.String()).
		Str("requested_by", requestedBy).
		Msg("Item enqueued")
	return item, nil
}

// Play joins the sink and starts playback at the queue cursor. A sink failure
// is fatal for the attempt: it is returned to the caller and the cursor does
// not advance. Play while already playing is a no-op.
func (o *Orchestrator) Play(ctx context.Context, channels models.SinkChannels) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt != nil {
		return nil
	}
	if o.queue.IsEmpty() {
		return ErrQueueEmpty
	}
	return o.playLocked(ctx, channels, 0)
}

// playLocked runs the Joining transition and begins the first attempt.
func (o *Orchestrator) playLocked(ctx context.Context, channels models.SinkChannels, seek int) error {
	o.state = StateJoining
	o.stopIdleTimerLocked()

	if !o.sink.Connected() {
		if err := o.sink.Join(ctx, channels); err != nil {
			o.state = StateIdle
			return newPlaybackError(FailureConnection, channels.VoiceChannel, err)
		}
	}
	o.status.Joined = true
	o.status.Channels = channels

	item := o.queue.Current()
	if item == nil {
		item = o.queue.AdvanceToNext()
	}
	if item == nil {
		o.state = StateIdle
		return ErrQueueEmpty
	}

	o.beginAttemptLocked(item, seek)
	return nil
}

// Skip cancels the current attempt; the pipeline monitor then advances the
// queue. At most one skip may be in flight, except when the queue is down to
// its last item: a second skip then proceeds immediately, since the queue
// empties regardless and there is nothing left to race against.
func (o *Orchestrator) Skip() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt == nil {
		return ErrNothingPlaying
	}
	if o.skipInFlight && o.queue.UpcomingCount() > 1 {
		return ErrSkipInFlight
	}

	o.skipInFlight = true
	o.state = StateSkipping
	o.status.ManualStop = true
	o.attempt.cancel()

	o.log.Info().Int64("item_id", o.attempt.item.ID).Msg("Skip requested")
	return nil
}

// Stop cancels any attempt, clears the whole queue and returns to Idle. The
// sink stays connected until the idle timer fires.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt != nil {
		o.state = StateStopping
		o.status.ManualStop = true
		att := o.attempt
		o.attempt = nil
		att.cancel()
	}

	o.queue.Clear()
	o.queue.SetPlaying(false)
	o.status.ResetPlayback()
	o.state = StateIdle
	o.skipInFlight = false

	if err := o.snapshots.Clear(); err != nil {
		o.log.Warn().Err(err).Msg("Failed to clear snapshot on stop")
	}
	o.startIdleTimerLocked()

	o.log.Info().Msg("Playback stopped, queue cleared")
}

// Shutdown winds playback down for a process exit without discarding state:
// a final snapshot is written so a restart within the freshness window can
// resume, the attempt is cancelled and the sink is left.
func (o *Orchestrator) Shutdown() {
	o.writeSnapshot()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopIdleTimerLocked()
	if o.attempt != nil {
		att := o.attempt
		o.attempt = nil
		att.cancel()
	}
	o.state = StateIdle

	if o.status.Joined {
		if err := o.sink.Leave(); err != nil {
			o.log.Warn().Err(err).Msg("Failed to leave sink on shutdown")
		}
	}
	o.status.ResetConnection()
}

// Remove drops an item from the queue by ID. Removing the currently playing
// item is a Skip.
func (o *Orchestrator) Remove(id int64) error {
	o.mu.Lock()
	current := o.attempt != nil && o.attempt.item.ID == id
	o.mu.Unlock()

	if current {
		return o.Skip()
	}
	if !o.queue.Remove(id) {
		return fmt.Errorf("no queue item with id %d", id)
	}
	return nil
}

// Resume restores playback from a fresh snapshot: it rebuilds a one-item
// queue from the snapshot's current entry and starts preparing with the saved
// elapsed seconds as the seek offset. Returns false when there is nothing to
// resume.
func (o *Orchestrator) Resume(ctx context.Context) (bool, error) {
	snap, err := o.snapshots.Load()
	if err != nil {
		return false, err
	}
	current := snap.Current()
	if current == nil {
		return false, nil
	}

	item := o.queue.Enqueue(models.MediaSource{
		URL:     current.ResolvedURL,
		Title:   current.Title,
		Type:    current.MediaType,
		IsLive:  current.IsLive,
		Headers: current.Headers,
	}, current.RequestedBy, current.OriginalInput)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt != nil {
		return false, nil
	}

	o.log.Info().
		Str("title", item.Title).
		Int("seek_seconds", snap.ElapsedSeconds).
		Msg("Resuming playback from snapshot")

	if err := o.playLocked(ctx, snap.Channels, snap.ElapsedSeconds); err != nil {
		o.queue.Clear()
		return false, err
	}
	return true, nil
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// NowPlaying returns the item of the active attempt, or nil.
func (o *Orchestrator) NowPlaying() *models.QueueItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt == nil {
		return nil
	}
	return o.attempt.item
}

// FailedCount returns how many sources have failed since process start.
func (o *Orchestrator) FailedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.failed)
}

// FailedInputs lists the inputs in the failed set. Informational only; a
// failed input is never retried automatically.
func (o *Orchestrator) FailedInputs() map[string]FailureKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]FailureKind, len(o.failed))
	for k, v := range o.failed {
		out[k] = v
	}
	return out
}

// Status reports the playback status for the read-only API.
func (o *Orchestrator) Status() StatusReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := StatusReport{
		State:       o.state,
		Playing:     o.status.Playing,
		Joined:      o.status.Joined,
		Channels:    o.status.Channels,
		FailedCount: len(o.failed),
		Queue: lo.Map(o.queue.Items(), func(item *models.QueueItem, _ int) models.SnapshotItem {
			return models.SnapshotItemFrom(item)
		}),
	}
	if o.attempt != nil {
		report.NowPlaying = lo.ToPtr(models.SnapshotItemFrom(o.attempt.item))
		report.ElapsedSeconds = o.attempt.elapsedSeconds()
	}
	return report
}

// StatusReport is the snapshot of playback state exposed over the API.
type StatusReport struct {
	State          State                 `json:"state"`
	Playing        bool                  `json:"playing"`
	Joined         bool                  `json:"joined"`
	Channels       models.SinkChannels   `json:"channels"`
	NowPlaying     *models.SnapshotItem  `json:"now_playing,omitempty"`
	ElapsedSeconds int                   `json:"elapsed_seconds"`
	Queue          []models.SnapshotItem `json:"queue"`
	FailedCount    int                   `json:"failed_count"`
}

// beginAttemptLocked creates a fresh attempt for item and launches its
// preparation off the control mutex.
func (o *Orchestrator) beginAttemptLocked(item *models.QueueItem, seek int) {
	ctx, cancel := context.WithCancel(context.Background())
	att := &attempt{id: uuid.NewString(), ctx: ctx, cancel: cancel, item: item, seek: seek}

	o.attempt = att
	o.state = StatePreparing
	o.status.Playing = true
	o.queue.SetPlaying(true)
	o.stopIdleTimerLocked()

	o.log.Debug().
		Str("attempt_id", att.id).
		Int64("item_id", item.ID).
		Str("title", item.Title).
		Int("seek_seconds", seek).
		Msg("Attempt started")

	go o.runAttempt(att)
}

// runAttempt carries one attempt from Preparing through Streaming to its end.
// It runs off the control mutex; every decision point re-enters through it
// and checks that the attempt is still the current one.
func (o *Orchestrator) runAttempt(att *attempt) {
	in, err := o.prepare(att)
	if err != nil {
		o.onAttemptFailed(att, err)
		return
	}

	handle, err := o.runner.Start(att.ctx, in)
	if err != nil {
		o.onAttemptFailed(att, newPlaybackError(FailurePipeline, att.item.OriginalInput, err))
		return
	}

	o.mu.Lock()
	if o.attempt != att {
		o.mu.Unlock()
		handle.Stop()
		return
	}
	att.handle = handle
	att.startedAt = time.Now()
	o.state = StateStreaming
	o.mu.Unlock()

	o.notifier.NowPlaying(att.item)
	o.sink.SetActivity(att.item.Title)

	go func() {
		if err := o.sink.Stream(att.ctx, handle.Output()); err != nil && !errors.Is(err, context.Canceled) {
			att.setStreamErr(err)
			att.cancel()
		}
	}()

	o.onPipelineEnd(att, <-handle.Done())
}

// prepare turns the attempt's item into pipeline parameters: a local file
// (prefetched or downloaded now), a freshly re-resolved live URL, or a direct
// remote URL with its headers.
func (o *Orchestrator) prepare(att *attempt) (pipeline.Input, error) {
	item := att.item
	if err := att.ctx.Err(); err != nil {
		return pipeline.Input{}, err
	}

	switch {
	case item.MediaType == models.MediaTypeLocal:
		return pipeline.Input{Path: item.ResolvedURL, SeekSeconds: att.seek}, nil

	case item.IsLive:
		// Live URLs expire; re-resolve from the original input every time
		url, headers, err := o.live.StreamURL(att.ctx, item.OriginalInput)
		if err != nil {
			return pipeline.Input{}, newPlaybackError(FailureResolution, item.OriginalInput, err)
		}
		return pipeline.Input{URL: url, Headers: headers, IsLive: true}, nil

	case item.MediaType == models.MediaTypeYouTube:
		path, err := o.prefetch.Consume(att.ctx, item)
		if err != nil {
			return pipeline.Input{}, newPlaybackError(FailureResolution, item.OriginalInput, err)
		}
		return pipeline.Input{Path: path, SeekSeconds: att.seek}, nil

	default:
		return pipeline.Input{URL: item.ResolvedURL, Headers: item.Headers, SeekSeconds: att.seek}, nil
	}
}

// onAttemptFailed handles a failure before streaming began. A cancelled
// attempt is not a failure; the cancelling transition already decided what
// happens next.
func (o *Orchestrator) onAttemptFailed(att *attempt, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt != att {
		return
	}
	o.attempt = nil
	att.cancel()
	wasManual := o.status.ManualStop
	o.status.ManualStop = false
	o.skipInFlight = false

	if att.ctx.Err() != nil && wasManual {
		// Skip arrived during preparation
		o.advanceLocked()
		return
	}

	kind := FailureResolution
	var perr *PlaybackError
	if errors.As(err, &perr) {
		kind = perr.Kind
	}
	o.markFailedLocked(att.item, kind, err)
	o.advanceLocked()
}

// onPipelineEnd is the single continuation for a streaming attempt. Stale
// attempts (already replaced by a stop) back off on the identity check, so a
// second cancellation can never double-advance or double-leave.
func (o *Orchestrator) onPipelineEnd(att *attempt, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt != att {
		return
	}
	o.attempt = nil
	att.cancel()
	wasManual := o.status.ManualStop
	o.status.ManualStop = false
	o.skipInFlight = false

	switch {
	case err == nil:
		o.log.Info().
			Str("attempt_id", att.id).
			Int64("item_id", att.item.ID).
			Msg("Playback finished")
		o.advanceLocked()

	case errors.Is(err, context.Canceled):
		if streamErr := att.getStreamErr(); streamErr != nil {
			o.markFailedLocked(att.item, FailurePipeline, streamErr)
			o.advanceLocked()
			return
		}
		if wasManual {
			// Skip: straight to the next item, the sink stays joined
			o.advanceLocked()
			return
		}
		o.enterIdleLocked(false)

	default:
		if wasManual {
			o.advanceLocked()
			return
		}
		o.markFailedLocked(att.item, FailurePipeline, err)
		o.advanceLocked()
	}
}

// advanceLocked moves to the next item or winds playback down when the queue
// is exhausted. One broken link never stalls the queue: a failed item always
// ends here, advancing or finishing cleanly.
func (o *Orchestrator) advanceLocked() {
	next := o.queue.AdvanceToNext()
	if next != nil {
		o.beginAttemptLocked(next, 0)
		return
	}
	o.enterIdleLocked(true)
}

// enterIdleLocked resets playback flags and arms the idle disconnect timer.
func (o *Orchestrator) enterIdleLocked(queueFinished bool) {
	o.state = StateIdle
	o.queue.SetPlaying(false)
	o.status.ResetPlayback()
	o.sink.SetActivity("")

	if err := o.snapshots.Clear(); err != nil {
		o.log.Warn().Err(err).Msg("Failed to clear snapshot")
	}
	if queueFinished {
		o.notifier.QueueFinished()
	}
	o.startIdleTimerLocked()
}

// markFailedLocked records the failure and sends its one notification.
func (o *Orchestrator) markFailedLocked(item *models.QueueItem, kind FailureKind, err error) {
	o.failed[item.OriginalInput] = kind
	o.log.Warn().
		Err(err).
		Int64("item_id", item.ID).
		Str("kind", string(kind)).
		Str("input", item.OriginalInput).
		Msg("Playback attempt failed")
	o.notifier.PlaybackFailed(item, err)
}

func (o *Orchestrator) startIdleTimerLocked() {
	o.stopIdleTimerLocked()
	if !o.status.Joined {
		return
	}
	o.idleTimer = time.AfterFunc(o.cfg.IdleDisconnect, o.onIdleTimeout)
}

func (o *Orchestrator) stopIdleTimerLocked() {
	if o.idleTimer != nil {
		o.idleTimer.Stop()
		o.idleTimer = nil
	}
}

// onIdleTimeout leaves the sink after the idle window passed with no new
// playback.
func (o *Orchestrator) onIdleTimeout() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt != nil {
		return
	}
	if err := o.sink.Leave(); err != nil {
		o.log.Warn().Err(err).Msg("Failed to leave sink on idle timeout")
	}
	o.status.ResetConnection()
	o.idleTimer = nil
	o.log.Info().Dur("idle_for", o.cfg.IdleDisconnect).Msg("Idle disconnect")
}

// snapshotLoop persists a resume record on a fixed tick while streaming. The
// loop is the only writer, so snapshots are never written with stale state
// after a newer transition.
func (o *Orchestrator) snapshotLoop() {
	ticker := time.NewTicker(o.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.writeSnapshot()
		}
	}
}

func (o *Orchestrator) writeSnapshot() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.attempt == nil || o.attempt.handle == nil {
		return
	}

	snap := &models.PlaybackSnapshot{
		Items: lo.Map(o.queue.Items(), func(item *models.QueueItem, _ int) models.SnapshotItem {
			return models.SnapshotItemFrom(item)
		}),
		Cursor:         o.queue.Cursor(),
		LastActiveAt:   time.Now().UTC(),
		ElapsedSeconds: o.attempt.elapsedSeconds(),
		Channels:       o.status.Channels,
	}

	if err := o.snapshots.Save(snap); err != nil {
		o.log.Warn().Err(err).Msg("Failed to write snapshot")
	}
}
