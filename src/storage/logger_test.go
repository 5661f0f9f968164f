package storage

import (
	"TransportDelay/src/config"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.log")
	logger, err := NewLogger(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestLoggerWritesEntries(t *testing.T) {
	logger, path := newTestLogger(t)
	var console bytes.Buffer
	logger.SetConsole(&console)

	logger.Info("清洗完成")
	logger.Warning("缺少列 weather")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "] INFO: 清洗完成")
	assert.Contains(t, lines[1], "] WARNING: 缺少列 weather")
	assert.Equal(t, string(data), console.String())
}

func TestLoggerLevelFilter(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.SetLevel(WARNING)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "ERROR: shown")
}

func TestLoggerSubscribe(t *testing.T) {
	logger, _ := newTestLogger(t)
	sub := logger.Subscribe()

	logger.Info("run started")

	select {
	case msg := <-sub:
		assert.Contains(t, msg, "INFO: run started")
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}

	logger.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
}

func TestLoggerReopen(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.Info("before")

	rotated := path + ".1"
	require.NoError(t, os.Rename(path, rotated))
	require.NoError(t, logger.Reopen(""))
	logger.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after")
	assert.NotContains(t, string(data), "before")
}

func TestCheckRotate(t *testing.T) {
	logger, path := newTestLogger(t)
	cfg := config.Default()
	cfg.LogMaxSize = "1 * 64"

	for i := 0; i < 5; i++ {
		logger.Info("padding padding padding")
	}
	require.NoError(t, logger.CheckRotate(cfg))
	logger.Info("fresh")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "padding")
}

func TestEval(t *testing.T) {
	assert.Equal(t, int64(10*1024*1024), eval("10 * 1024 * 1024"))
	assert.Equal(t, int64(512), eval("512"))
	assert.Equal(t, int64(0), eval("ten"))
}

func TestHistoryRecordRun(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	base := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, h.RecordRun(ctx, RunSummary{
		RunID: "a", Source: "first.csv", StartedAt: base, Duration: 1500 * time.Millisecond,
		RowsRaw: 10, RowsCleaned: 8, RowsFeatures: 7, MeanDelay: 4.5, Status: "ok",
		Audit: []string{"step one"},
	}))
	require.NoError(t, h.RecordRun(ctx, RunSummary{
		RunID: "b", Source: "second.csv", StartedAt: base.Add(time.Hour), Status: "failed",
	}))

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].RunID)
	assert.Equal(t, "a", runs[1].RunID)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	assert.Equal(t, []string{"step one"}, runs[1].Audit)
	assert.True(t, base.Equal(runs[1].StartedAt))
}

func TestHistoryRecentRunsSameSecond(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	base := time.Date(2024, 1, 1, 6, 0, 5, 0, time.UTC)
	for _, run := range []RunSummary{
		{RunID: "whole", StartedAt: base, Status: "ok"},
		{RunID: "half", StartedAt: base.Add(500 * time.Millisecond), Status: "ok"},
		{RunID: "micro", StartedAt: base.Add(1500 * time.Microsecond), Status: "ok"},
	} {
		require.NoError(t, h.RecordRun(ctx, run))
	}

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "half", runs[0].RunID)
	assert.Equal(t, "micro", runs[1].RunID)
	assert.Equal(t, "whole", runs[2].RunID)
	assert.True(t, base.Add(500*time.Millisecond).Equal(runs[0].StartedAt))
	assert.True(t, base.Equal(runs[2].StartedAt))
}

func TestHistoryUpdateRouteStats(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.UpdateRouteStats(ctx, []RouteDelay{
		{RouteID: 3, DelayMinutes: 10},
		{RouteID: 3, DelayMinutes: 20},
		{RouteID: 5, DelayMinutes: 0},
	}))
	// 第二批合并到已有统计
	require.NoError(t, h.UpdateRouteStats(ctx, []RouteDelay{{RouteID: 3, DelayMinutes: 30}}))

	stats, err := h.RouteStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, 3, stats[0].RouteID)
	assert.Equal(t, 3, stats[0].Count)
	assert.InDelta(t, 20.0, stats[0].Mean, 1e-9)
	assert.InDelta(t, 10.0, stats[0].StdDev, 1e-9)
	assert.Equal(t, 30.0, stats[0].Max)

	assert.Equal(t, 5, stats[1].RouteID)
	assert.Equal(t, 1, stats[1].Count)
}
