package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeck712/troubadour/internal/models"
	"github.com/mbeck712/troubadour/internal/pipeline"
	"github.com/mbeck712/troubadour/internal/queue"
	"github.com/mbeck712/troubadour/internal/resolver"
	"github.com/mbeck712/troubadour/internal/snapshot"
)

const waitTimeout = 2 * time.Second

type fakeResolver struct {
	sources map[string]*models.MediaSource
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, input string) (*models.MediaSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources[input], nil
}

type fakeLive struct {
	url     string
	headers map[string]string
	err     error
}

func (f *fakeLive) StreamURL(context.Context, string) (string, map[string]string, error) {
	return f.url, f.headers, f.err
}

type fakePrefetch struct {
	mu         sync.Mutex
	attached   int
	consumeErr map[string]error
}

func (f *fakePrefetch) Attach(*models.QueueItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached++
}

func (f *fakePrefetch) Consume(_ context.Context, item *models.QueueItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consumeErr[item.OriginalInput]; err != nil {
		return "", err
	}
	return "/cache/" + item.Title, nil
}

func (f *fakePrefetch) attachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

type fakeSink struct {
	mu        sync.Mutex
	joins     int
	leaves    int
	joinErr   error
	connected bool
}

func (f *fakeSink) Join(_ context.Context, _ models.SinkChannels) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins++
	f.connected = true
	return nil
}

func (f *fakeSink) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	f.connected = false
	return nil
}

func (f *fakeSink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSink) Stream(_ context.Context, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (f *fakeSink) SetActivity(string) {}

func (f *fakeSink) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

func (f *fakeSink) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

type fakeHandle struct {
	done chan error
}

func (h *fakeHandle) Output() io.Reader  { return bytes.NewReader(nil) }
func (h *fakeHandle) Done() <-chan error { return h.done }
func (h *fakeHandle) Stop()              {}

type fakeRunner struct {
	mu       sync.Mutex
	inputs   []pipeline.Input
	startErr map[string]error
	handleCh chan *fakeHandle
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		startErr: make(map[string]error),
		handleCh: make(chan *fakeHandle, 8),
	}
}

func (r *fakeRunner) Start(ctx context.Context, in pipeline.Input) (pipeline.Handle, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	err := r.startErr[in.URL]
	if err == nil {
		err = r.startErr[in.Path]
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	h := &fakeHandle{done: make(chan error, 2)}
	go func() {
		<-ctx.Done()
		h.done <- ctx.Err()
	}()
	r.handleCh <- h
	return h, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func (r *fakeRunner) lastInput() pipeline.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[len(r.inputs)-1]
}

type recorderNotifier struct {
	mu       sync.Mutex
	playing  []string
	failed   []string
	finished int
}

func (n *recorderNotifier) NowPlaying(item *models.QueueItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playing = append(n.playing, item.Title)
}

func (n *recorderNotifier) PlaybackFailed(item *models.QueueItem, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, item.OriginalInput)
}

func (n *recorderNotifier) QueueFinished() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished++
}

func (n *recorderNotifier) finishedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.finished
}

func (n *recorderNotifier) failedInputs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.failed...)
}

type testEnv struct {
	orc      *Orchestrator
	queue    *queue.Queue
	resolver *fakeResolver
	prefetch *fakePrefetch
	sink     *fakeSink
	runner   *fakeRunner
	notifier *recorderNotifier
	store    *snapshot.Store
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	if cfg.IdleDisconnect == 0 {
		cfg.IdleDisconnect = time.Hour
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = time.Hour
	}

	env := &testEnv{
		queue:    queue.New(),
		resolver: &fakeResolver{sources: make(map[string]*models.MediaSource)},
		prefetch: &fakePrefetch{consumeErr: make(map[string]error)},
		sink:     &fakeSink{},
		runner:   newFakeRunner(),
		notifier: &recorderNotifier{},
		store:    snapshot.New(afero.NewMemMapFs(), "/state/snapshot.json", time.Hour),
	}
	env.orc = New(Deps{
		Queue:      env.queue,
		Resolver:   env.resolver,
		Live:       &fakeLive{},
		Prefetcher: env.prefetch,
		Sink:       env.sink,
		Runner:     env.runner,
		Snapshots:  env.store,
		Notifier:   env.notifier,
	}, cfg)
	t.Cleanup(env.orc.Close)
	return env
}

func (e *testEnv) addURLSource(input, title string) {
	e.resolver.sources[input] = &models.MediaSource{
		URL:   input,
		Title: title,
		Type:  models.MediaTypeURL,
	}
}

func (e *testEnv) enqueue(t *testing.T, input string) *models.QueueItem {
	t.Helper()
	item, err := e.orc.Enqueue(context.Background(), input, "tester")
	require.NoError(t, err)
	return item
}

func (e *testEnv) waitHandle(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-e.runner.handleCh:
		return h
	case <-time.After(waitTimeout):
		t.Fatal("no pipeline attempt started")
		return nil
	}
}

func testChannels() models.SinkChannels {
	return models.SinkChannels{GuildID: "guild", VoiceChannel: "voice", ReplyChannel: "reply"}
}

func TestEnqueue_ResolvedSourceAttachesPrefetch(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")

	item := env.enqueue(t, "https://example.com/a.mp4")
	assert.Equal(t, "A", item.Title)
	assert.Equal(t, 1, env.prefetch.attachCount())
	assert.Equal(t, 1, env.queue.Length())
}

func TestEnqueue_UnresolvableInputFallsBackToOpaqueURL(t *testing.T) {
	env := newTestEnv(t, Config{})

	item := env.enqueue(t, "https://unknown.example.com/thing")
	assert.Equal(t, models.MediaTypeURL, item.MediaType)
	assert.Equal(t, "https://unknown.example.com/thing", item.ResolvedURL)
}

func TestEnqueue_ProtectedContentRejectedDistinctly(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.resolver.err = resolver.ErrProtectedContent

	_, err := env.orc.Enqueue(context.Background(), "https://dubz.co/v/abc", "tester")
	var perr *PlaybackError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, FailureProtected, perr.Kind)
	assert.True(t, env.queue.IsEmpty())
	assert.Equal(t, 1, env.orc.FailedCount())
}

func TestPlay_EmptyQueue(t *testing.T) {
	env := newTestEnv(t, Config{})
	err := env.orc.Play(context.Background(), testChannels())
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestPlay_SinkFailureIsFatalWithoutAdvance(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")
	env.sink.joinErr = errors.New("gateway unreachable")

	err := env.orc.Play(context.Background(), testChannels())
	var perr *PlaybackError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, FailureConnection, perr.Kind)

	assert.Equal(t, StateIdle, env.orc.State())
	assert.Equal(t, queue.NoCursor, env.queue.Cursor(), "cursor does not advance on a connection failure")
	assert.Equal(t, 1, env.queue.Length())
	assert.Zero(t, env.orc.FailedCount(), "connection failures are not the item's fault")
}

func TestPlay_StreamsCurrentItem(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.Eventually(t, func() bool {
		return env.orc.State() == StateStreaming
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, "https://example.com/a.mp4", env.runner.lastInput().URL)
	assert.True(t, env.queue.Playing())
	require.NotNil(t, env.orc.NowPlaying())
	assert.Equal(t, "A", env.orc.NowPlaying().Title)
}

func TestPlay_WhileAlreadyPlayingIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	assert.Equal(t, 1, env.runner.startCount())
	assert.Equal(t, 1, env.sink.joinCount())
}

func TestNaturalEndAdvancesThroughQueue(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.addURLSource("https://example.com/b.mp4", "B")
	env.enqueue(t, "https://example.com/a.mp4")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))

	first := env.waitHandle(t)
	first.done <- nil

	second := env.waitHandle(t)
	require.Eventually(t, func() bool {
		item := env.orc.NowPlaying()
		return item != nil && item.Title == "B"
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, env.sink.joinCount(), "the sink connection is shared across items")

	second.done <- nil
	require.Eventually(t, func() bool {
		return env.orc.State() == StateIdle && env.notifier.finishedCount() == 1
	}, waitTimeout, 5*time.Millisecond)
	assert.True(t, env.queue.IsEmpty())
	assert.Zero(t, env.sink.leaveCount(), "the sink stays joined until the idle timer")
}

func TestFailedItemNeverBlocksTheNext(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/broken.mp4", "Broken")
	env.addURLSource("https://example.com/b.mp4", "B")
	env.runner.startErr["https://example.com/broken.mp4"] = errors.New("no such codec")

	env.enqueue(t, "https://example.com/broken.mp4")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.Eventually(t, func() bool {
		item := env.orc.NowPlaying()
		return item != nil && item.Title == "B"
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, []string{"https://example.com/broken.mp4"}, env.notifier.failedInputs())
	failures := env.orc.FailedInputs()
	assert.Equal(t, FailurePipeline, failures["https://example.com/broken.mp4"])
}

func TestPrepareFailureAdvances(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.resolver.sources["yt-a"] = &models.MediaSource{
		URL: "https://youtube.com/watch?v=a", Title: "A", Type: models.MediaTypeYouTube,
	}
	env.addURLSource("https://example.com/b.mp4", "B")
	env.prefetch.consumeErr["yt-a"] = errors.New("download failed")

	env.enqueue(t, "yt-a")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.Eventually(t, func() bool {
		item := env.orc.NowPlaying()
		return item != nil && item.Title == "B"
	}, waitTimeout, 5*time.Millisecond)

	failures := env.orc.FailedInputs()
	assert.Equal(t, FailureResolution, failures["yt-a"])
}

func TestSkip_WhileIdleIsRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	assert.ErrorIs(t, env.orc.Skip(), ErrNothingPlaying)
}

func TestSkip_AdvancesWithoutRejoiningSink(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.addURLSource("https://example.com/b.mp4", "B")
	env.enqueue(t, "https://example.com/a.mp4")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.NoError(t, env.orc.Skip())
	env.waitHandle(t)

	require.Eventually(t, func() bool {
		item := env.orc.NowPlaying()
		return item != nil && item.Title == "B"
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, 1, env.sink.joinCount())
	assert.Empty(t, env.notifier.failedInputs(), "a skipped item is not a failure")
}

func TestSkip_GuardRejectsSecondSkipWithItemsRemaining(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, u := range []string{"a", "b", "c"} {
		input := "https://example.com/" + u + ".mp4"
		env.addURLSource(input, u)
		env.enqueue(t, input)
	}

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	// Two skips in the same critical window: the first wins, the second is
	// rejected because two items still remain
	first := env.orc.Skip()
	second := env.orc.Skip()
	require.NoError(t, first)
	if second != nil {
		assert.ErrorIs(t, second, ErrSkipInFlight)
	}
}

func TestSkip_DoubleSkipOnLastItemDoesNotDeadlock(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- env.orc.Skip() }()
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				assert.ErrorIs(t, err, ErrNothingPlaying,
					"the last-item exemption never reports a skip in flight")
			}
		case <-time.After(waitTimeout):
			t.Fatal("skip deadlocked")
		}
	}

	require.Eventually(t, func() bool {
		return env.orc.State() == StateIdle
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, env.notifier.finishedCount(), "exactly one queue-empty transition")
	assert.Zero(t, env.sink.leaveCount(), "no double-leave of the sink")
}

func TestStop_ClearsQueueAndReturnsToIdle(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.addURLSource("https://example.com/b.mp4", "B")
	env.enqueue(t, "https://example.com/a.mp4")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	h := env.waitHandle(t)

	env.orc.Stop()

	assert.Equal(t, StateIdle, env.orc.State())
	assert.True(t, env.queue.IsEmpty())
	assert.Nil(t, env.orc.NowPlaying())

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled, "stop cancels the attempt token")
	case <-time.After(waitTimeout):
		t.Fatal("attempt was not cancelled")
	}

	// The stale attempt's monitor must not restart playback
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.runner.startCount())
	assert.Zero(t, env.notifier.finishedCount(), "a deliberate stop is not a queue finish")
}

func TestIdleTimerLeavesSink(t *testing.T) {
	env := newTestEnv(t, Config{IdleDisconnect: 30 * time.Millisecond})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	h := env.waitHandle(t)
	h.done <- nil

	require.Eventually(t, func() bool {
		return env.sink.leaveCount() == 1 && !env.orc.Status().Joined
	}, waitTimeout, 5*time.Millisecond)
}

func TestIdleTimerCancelledByNewPlayback(t *testing.T) {
	env := newTestEnv(t, Config{IdleDisconnect: 250 * time.Millisecond})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	h := env.waitHandle(t)
	h.done <- nil

	require.Eventually(t, func() bool {
		return env.orc.State() == StateIdle
	}, waitTimeout, 5*time.Millisecond)

	// New playback before the timer fires keeps the connection
	env.enqueue(t, "https://example.com/a.mp4")
	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, env.sink.leaveCount())
}

func TestSnapshotWrittenWhileStreamingAndClearedOnFinish(t *testing.T) {
	env := newTestEnv(t, Config{SnapshotInterval: 20 * time.Millisecond})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	h := env.waitHandle(t)

	require.Eventually(t, func() bool {
		snap, err := env.store.Load()
		return err == nil && snap != nil && snap.Current() != nil
	}, waitTimeout, 5*time.Millisecond)

	snap, err := env.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.mp4", snap.Current().OriginalInput)
	assert.Equal(t, testChannels(), snap.Channels)

	h.done <- nil
	require.Eventually(t, func() bool {
		snap, err := env.store.Load()
		return err == nil && snap == nil
	}, waitTimeout, 5*time.Millisecond)
}

func TestResume_FreshSnapshotSeeksToElapsed(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, env.store.Save(&models.PlaybackSnapshot{
		Items: []models.SnapshotItem{{
			OriginalInput: "https://example.com/a.mp4",
			ResolvedURL:   "https://example.com/a.mp4",
			Title:         "A",
			MediaType:     models.MediaTypeURL,
			RequestedBy:   "tester",
		}},
		Cursor:         0,
		LastActiveAt:   time.Now().UTC(),
		ElapsedSeconds: 42,
		Channels:       testChannels(),
	}))

	resumed, err := env.orc.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, resumed)

	env.waitHandle(t)
	in := env.runner.lastInput()
	assert.Equal(t, "https://example.com/a.mp4", in.URL)
	assert.Equal(t, 42, in.SeekSeconds)

	require.NotNil(t, env.orc.NowPlaying())
	assert.Equal(t, "https://example.com/a.mp4", env.orc.NowPlaying().OriginalInput)
}

func TestResume_StaleSnapshotIsDiscarded(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, env.store.Save(&models.PlaybackSnapshot{
		Items:        []models.SnapshotItem{{OriginalInput: "old", ResolvedURL: "old"}},
		Cursor:       0,
		LastActiveAt: time.Now().Add(-2 * time.Hour),
	}))

	resumed, err := env.orc.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.True(t, env.queue.IsEmpty())
	assert.Zero(t, env.runner.startCount())
}

func TestRemove_CurrentItemSkips(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.addURLSource("https://example.com/b.mp4", "B")
	a := env.enqueue(t, "https://example.com/a.mp4")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.NoError(t, env.orc.Remove(a.ID))
	env.waitHandle(t)

	require.Eventually(t, func() bool {
		item := env.orc.NowPlaying()
		return item != nil && item.Title == "B"
	}, waitTimeout, 5*time.Millisecond)
}

func TestRemove_UnknownID(t *testing.T) {
	env := newTestEnv(t, Config{})
	assert.Error(t, env.orc.Remove(99))
}

func TestStatus_ReportsQueueAndFailures(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.addURLSource("https://example.com/b.mp4", "B")
	env.enqueue(t, "https://example.com/a.mp4")
	env.enqueue(t, "https://example.com/b.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	require.Eventually(t, func() bool {
		return env.orc.Status().State == StateStreaming
	}, waitTimeout, 5*time.Millisecond)

	status := env.orc.Status()
	assert.True(t, status.Playing)
	assert.True(t, status.Joined)
	require.NotNil(t, status.NowPlaying)
	assert.Equal(t, "A", status.NowPlaying.Title)
	assert.Len(t, status.Queue, 2)
	assert.Zero(t, status.FailedCount)
}

func TestShutdown_PersistsSnapshotAndLeavesSink(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.addURLSource("https://example.com/a.mp4", "A")
	env.enqueue(t, "https://example.com/a.mp4")

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)
	require.Eventually(t, func() bool {
		return env.orc.State() == StateStreaming
	}, waitTimeout, 5*time.Millisecond)

	env.orc.Shutdown()

	snap, err := env.store.Load()
	require.NoError(t, err)
	require.NotNil(t, snap, "shutdown leaves a resumable snapshot behind")
	require.NotNil(t, snap.Current())
	assert.Equal(t, "https://example.com/a.mp4", snap.Current().OriginalInput)
	assert.Equal(t, 1, env.sink.leaveCount())
	assert.False(t, env.orc.Status().Joined)
}

func TestLiveItemReResolvedAtPlayTime(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.resolver.sources["https://twitch.tv/somechannel"] = &models.MediaSource{
		URL:    "https://expired.example.com/old.m3u8",
		Title:  "somechannel",
		Type:   models.MediaTypeTwitch,
		IsLive: true,
	}
	env.enqueue(t, "https://twitch.tv/somechannel")

	live := &fakeLive{
		url:     "https://fresh.example.com/live.m3u8",
		headers: map[string]string{"Referer": "https://twitch.tv"},
	}
	env.orc.live = live

	require.NoError(t, env.orc.Play(context.Background(), testChannels()))
	env.waitHandle(t)

	in := env.runner.lastInput()
	assert.Equal(t, "https://fresh.example.com/live.m3u8", in.URL, "the expired URL is never used")
	assert.Equal(t, live.headers, in.Headers)
	assert.True(t, in.IsLive)
}
