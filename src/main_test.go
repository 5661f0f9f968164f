package main

import (
	"TransportDelay/src/config"
	"TransportDelay/src/datasource/file"
	"TransportDelay/src/metrics"
	"TransportDelay/src/storage"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, webhookURL string) *app {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.InputFile = filepath.Join(dir, "data", "trips.csv")
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.HistoryDB = filepath.Join(dir, "history.db")
	cfg.WebhookURL = webhookURL

	logger, err := storage.NewLogger(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	a, err := newApp(context.Background(), cfg, config.DefaultSchema(), logger)
	require.NoError(t, err)
	if a.pusher != nil {
		a.pusher.WithRetry(1, 0)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRunFile(t *testing.T) {
	var pushes int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pushes, 1)
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer hook.Close()

	a := newTestApp(t, hook.URL)
	_, err := file.WriteDirtyDataset(a.cfg.InputFile, 200, 7)
	require.NoError(t, err)

	summary, err := a.runFile(context.Background(), a.cfg.InputFile)
	require.NoError(t, err)

	assert.Equal(t, statusOK, summary.Status)
	assert.Equal(t, 200, summary.RowsRaw)
	assert.Greater(t, summary.RowsFeatures, 0)
	assert.LessOrEqual(t, summary.RowsFeatures, summary.RowsCleaned)
	assert.Greater(t, summary.MeanDelay, 0.0)
	assert.NotEmpty(t, summary.RunID)

	for _, name := range []string{file.CleanedFile, file.FeatureFile, file.ReportFile, file.FeatureConfigFile} {
		assert.FileExists(t, filepath.Join(a.cfg.OutputDir, name))
	}
	fc, err := file.ReadFeatureConfig(filepath.Join(a.cfg.OutputDir, file.FeatureConfigFile))
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, fc.RunID)
	assert.Equal(t, config.ColDelayMinutes, fc.Target)

	runs, err := a.history.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, statusOK, runs[0].Status)
	assert.NotEmpty(t, runs[0].Audit)

	stats, err := a.history.RouteStats(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, stats)

	assert.Equal(t, int32(1), atomic.LoadInt32(&pushes))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.RunsTotal.WithLabelValues(metrics.StatusSuccess)))
}

func TestRunFileMissingDataset(t *testing.T) {
	a := newTestApp(t, "")

	summary, err := a.runFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Equal(t, statusFailed, summary.Status)
	assert.NotEmpty(t, summary.Error)

	runs, err := a.history.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, statusFailed, runs[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.RunsTotal.WithLabelValues(metrics.StatusFailed)))
}

func TestRunFileCanceled(t *testing.T) {
	a := newTestApp(t, "")
	_, err := file.WriteDirtyDataset(a.cfg.InputFile, 20, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := a.runFile(ctx, a.cfg.InputFile)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, statusFailed, summary.Status)
	assert.NoFileExists(t, filepath.Join(a.cfg.OutputDir, file.FeatureFile))
}

func TestRouter(t *testing.T) {
	a := newTestApp(t, "")
	_, err := file.WriteDirtyDataset(a.cfg.InputFile, 50, 3)
	require.NoError(t, err)
	_, err = a.runFile(context.Background(), a.cfg.InputFile)
	require.NoError(t, err)

	srv := httptest.NewServer(a.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(srv.URL + "/runs?limit=5")
	require.NoError(t, err)
	var runs []storage.RunSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	require.Len(t, runs, 1)
	assert.Equal(t, statusOK, runs[0].Status)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.RunsTotal.WithLabelValues(metrics.StatusSuccess)))
}

func TestRouterWithoutHistory(t *testing.T) {
	a := newTestApp(t, "")
	a.history.Close()
	a.history = nil

	rec := httptest.NewRecorder()
	a.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/routes", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec = httptest.NewRecorder()
	a.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
