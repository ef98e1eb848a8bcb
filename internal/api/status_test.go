package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeck712/troubadour/internal/db"
	"github.com/mbeck712/troubadour/internal/models"
	"github.com/mbeck712/troubadour/internal/orchestrator"
	"github.com/mbeck712/troubadour/internal/pipeline"
	"github.com/mbeck712/troubadour/internal/queue"
	"github.com/mbeck712/troubadour/internal/snapshot"
)

type stubSink struct{ connected bool }

func (s *stubSink) Join(context.Context, models.SinkChannels) error { s.connected = true; return nil }
func (s *stubSink) Leave() error                                    { s.connected = false; return nil }
func (s *stubSink) Connected() bool                                 { return s.connected }
func (s *stubSink) SetActivity(string)                              {}
func (s *stubSink) Stream(_ context.Context, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, input string) (*models.MediaSource, error) {
	return &models.MediaSource{URL: input, Title: input, Type: models.MediaTypeURL}, nil
}

type stubLive struct{}

func (stubLive) StreamURL(context.Context, string) (string, map[string]string, error) {
	return "", nil, errors.New("not live")
}

type stubPrefetch struct{}

func (stubPrefetch) Attach(*models.QueueItem) {}
func (stubPrefetch) Consume(context.Context, *models.QueueItem) (string, error) {
	return "", errors.New("nothing cached")
}

type stubRunner struct{}

func (stubRunner) Start(ctx context.Context, _ pipeline.Input) (pipeline.Handle, error) {
	return nil, errors.New("no pipeline in tests")
}

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	orc := orchestrator.New(orchestrator.Deps{
		Queue:      queue.New(),
		Resolver:   stubResolver{},
		Live:       stubLive{},
		Prefetcher: stubPrefetch{},
		Sink:       &stubSink{},
		Runner:     stubRunner{},
		Snapshots:  snapshot.New(afero.NewMemMapFs(), "/state/snapshot.json", time.Hour),
	}, orchestrator.Config{})
	t.Cleanup(orc.Close)
	return orc
}

func setupStatusTestRouter(orc *orchestrator.Orchestrator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupStatusRoutes(router.Group("/api"), orc)
	return router
}

func TestStatusEndpoint_IdleEmptyQueue(t *testing.T) {
	router := setupStatusTestRouter(newTestOrchestrator(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var status orchestrator.StatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, orchestrator.StateIdle, status.State)
	assert.False(t, status.Playing)
	assert.Empty(t, status.Queue)
	assert.Nil(t, status.NowPlaying)
}

func TestStatusEndpoint_ListsQueuedItems(t *testing.T) {
	orc := newTestOrchestrator(t)
	_, err := orc.Enqueue(context.Background(), "https://example.com/a.mp4", "tester")
	require.NoError(t, err)
	_, err = orc.Enqueue(context.Background(), "https://example.com/b.mp4", "tester")
	require.NoError(t, err)

	router := setupStatusTestRouter(orc)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var status orchestrator.StatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Len(t, status.Queue, 2)
	assert.Equal(t, "https://example.com/a.mp4", status.Queue[0].OriginalInput)
	assert.Equal(t, "tester", status.Queue[0].RequestedBy)
}

func TestFailedEndpoint_EmptySet(t *testing.T) {
	router := setupStatusTestRouter(newTestOrchestrator(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status/failed", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Failed)
}

func TestHealthEndpoint(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupHealthRoutes(router.Group("/api"), database, &stubSink{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "healthy", health.Database)
	assert.Equal(t, "disconnected", health.Sink)
}
