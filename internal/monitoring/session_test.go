package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/aifactory/internal/apperror"
)

func newTestManager(t *testing.T, handler http.Handler) (*Manager, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "scrape-config.yaml")
	renderer := NewRenderer(configPath)
	store := NewMetricStoreClient(server.URL, server.Client())
	return NewManager(renderer, store), configPath
}

func alwaysOKHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestCreateSession_RejectsSecondRunningSession(t *testing.T) {
	mgr, _ := newTestManager(t, alwaysOKHandler())
	ctx := context.Background()

	first, err := mgr.CreateSession(ctx, "mon-A", "15s", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "mon-A", first.ID)

	_, err = mgr.CreateSession(ctx, "mon-B", "15s", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mon-A")
}

func TestCreateSession_WritesScrapeConfig(t *testing.T) {
	mgr, configPath := newTestManager(t, alwaysOKHandler())
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "mon-A", "15s", t.TempDir())
	require.NoError(t, err)

	_, statErr := os.Stat(configPath)
	assert.NoError(t, statErr)
}

func TestRegisterService_ReRendersWhileRunning(t *testing.T) {
	var reloadCount int
	mux := http.NewServeMux()
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		reloadCount++
		w.WriteHeader(http.StatusOK)
	})

	mgr, configPath := newTestManager(t, mux)
	ctx := context.Background()

	session, err := mgr.CreateSession(ctx, "mon-A", "15s", t.TempDir())
	require.NoError(t, err)
	baseReloads := reloadCount

	err = mgr.RegisterService(ctx, session.ID, "svc-1", "http://10.0.0.5:8001/metrics")
	require.NoError(t, err)
	assert.Greater(t, reloadCount, baseReloads)

	contents, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "svc-1")
}

func TestStopSession_AllowsNewSessionAfterward(t *testing.T) {
	mgr, _ := newTestManager(t, alwaysOKHandler())
	ctx := context.Background()

	first, err := mgr.CreateSession(ctx, "mon-A", "15s", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, mgr.StopSession(ctx, first.ID))
	assert.Equal(t, StatusStopped, first.Status())

	second, err := mgr.CreateSession(ctx, "mon-B", "15s", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "mon-B", second.ID)
}

func TestRegisterService_UnknownSessionReturnsNotFound(t *testing.T) {
	mgr, _ := newTestManager(t, alwaysOKHandler())
	err := mgr.RegisterService(context.Background(), "does-not-exist", "svc-1", "http://x/metrics")
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestCollect_WritesArtifactsAndRecordsOnSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/-/reload", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"result":[{"values":[[1690000000,"1.5"],[1690000015,"2.5"]]}]}}`))
	})

	mgr, _ := newTestManager(t, mux)
	ctx := context.Background()

	session, err := mgr.CreateSession(ctx, "mon-A", "15s", t.TempDir())
	require.NoError(t, err)

	collector := NewCollector(mgr.store)
	outDir := filepath.Join(t.TempDir(), "run-1")

	artifacts, err := mgr.Collect(ctx, session.ID, collector, "1690000000", "1690000015", outDir, "run-1")
	require.NoError(t, err)
	assert.FileExists(t, artifacts.TableCSV)
	assert.FileExists(t, artifacts.ManifestJSON)
	assert.Equal(t, artifacts, session.Artifacts)
}
