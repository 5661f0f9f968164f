package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// started_at 以定宽文本保存，字符串顺序即时间顺序
const startedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunSummary 一次管道运行的结果摘要
type RunSummary struct {
	RunID        string
	Source       string
	StartedAt    time.Time
	Duration     time.Duration
	RowsRaw      int
	RowsCleaned  int
	RowsFeatures int
	MeanDelay    float64
	Warnings     int
	Status       string // ok / failed
	Audit        []string
}

// RouteDelay 单条延误观测
type RouteDelay struct {
	RouteID      int
	DelayMinutes float64
}

// RouteStats 线路累计延误统计
type RouteStats struct {
	RouteID int
	Count   int
	Mean    float64
	StdDev  float64
	Max     float64
}

// History 基于 sqlite 的运行历史。sqlite 只允许一个写者，
// 写操作统一经过 writeMu。
type History struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// OpenHistory 打开(或创建)历史库并确保表结构存在
func OpenHistory(ctx context.Context, path string) (*History, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开历史库失败: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("连接历史库失败: %w", err)
	}

	h := &History{conn: conn}
	if err := h.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) ensureSchema(ctx context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if _, err := h.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("创建历史表失败: %w", err)
	}
	return nil
}

func (h *History) Close() error {
	return h.conn.Close()
}

// RecordRun 写入一次运行记录
func (h *History) RecordRun(ctx context.Context, run RunSummary) error {
	audit, err := json.Marshal(run.Audit)
	if err != nil {
		return fmt.Errorf("序列化审计日志失败: %w", err)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	_, err = h.conn.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			run_id, source, started_at, duration_ms, rows_raw, rows_cleaned,
			rows_features, mean_delay, warnings, status, audit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Source, run.StartedAt.UTC().Format(startedAtLayout),
		run.Duration.Milliseconds(), run.RowsRaw, run.RowsCleaned, run.RowsFeatures,
		finiteOrZero(run.MeanDelay), run.Warnings, run.Status, string(audit))
	if err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// RecentRuns 按开始时间倒序返回最近 limit 次运行
func (h *History) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := h.conn.QueryContext(ctx, `
		SELECT run_id, source, started_at, duration_ms, rows_raw, rows_cleaned,
			rows_features, mean_delay, warnings, status, audit
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run        RunSummary
			startedAt  string
			durationMs int64
			audit      string
		)
		if err := rows.Scan(&run.RunID, &run.Source, &startedAt, &durationMs, &run.RowsRaw,
			&run.RowsCleaned, &run.RowsFeatures, &run.MeanDelay, &run.Warnings,
			&run.Status, &audit); err != nil {
			return nil, fmt.Errorf("读取运行记录失败: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(audit), &run.Audit); err != nil {
			return nil, fmt.Errorf("解析审计日志失败: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRouteStats 用 Welford 算法把本次观测合并进线路累计统计
func (h *History) UpdateRouteStats(ctx context.Context, observations []RouteDelay) error {
	if len(observations) == 0 {
		return nil
	}

	byRoute := make(map[int][]float64)
	for _, obs := range observations {
		if math.IsNaN(obs.DelayMinutes) || math.IsInf(obs.DelayMinutes, 0) {
			continue
		}
		byRoute[obs.RouteID] = append(byRoute[obs.RouteID], obs.DelayMinutes)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for routeID, delays := range byRoute {
		var (
			count        int
			mean, m2, mx float64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT observation_count, delay_mean_minutes, delay_m2, max_delay_minutes
			FROM route_delay_stats WHERE route_id = ?
		`, routeID).Scan(&count, &mean, &m2, &mx)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("读取线路 %d 统计失败: %w", routeID, err)
		}

		for _, d := range delays {
			count++
			delta := d - mean
			mean += delta / float64(count)
			m2 += delta * (d - mean)
			if d > mx {
				mx = d
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO route_delay_stats (
				route_id, observation_count, delay_mean_minutes, delay_m2, max_delay_minutes, updated_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(route_id) DO UPDATE SET
				observation_count = excluded.observation_count,
				delay_mean_minutes = excluded.delay_mean_minutes,
				delay_m2 = excluded.delay_m2,
				max_delay_minutes = excluded.max_delay_minutes,
				updated_at = excluded.updated_at
		`, routeID, count, mean, m2, mx, now)
		if err != nil {
			return fmt.Errorf("更新线路 %d 统计失败: %w", routeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交线路统计失败: %w", err)
	}
	return nil
}

// RouteStats 返回全部线路的累计统计，按线路号排序
func (h *History) RouteStats(ctx context.Context) ([]RouteStats, error) {
	rows, err := h.conn.QueryContext(ctx, `
		SELECT route_id, observation_count, delay_mean_minutes, delay_m2, max_delay_minutes
		FROM route_delay_stats ORDER BY route_id
	`)
	if err != nil {
		return nil, fmt.Errorf("查询线路统计失败: %w", err)
	}
	defer rows.Close()

	var stats []RouteStats
	for rows.Next() {
		var (
			s  RouteStats
			m2 float64
		)
		if err := rows.Scan(&s.RouteID, &s.Count, &s.Mean, &m2, &s.Max); err != nil {
			return nil, fmt.Errorf("读取线路统计失败: %w", err)
		}
		if s.Count > 1 {
			s.StdDev = math.Sqrt(m2 / float64(s.Count-1))
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
