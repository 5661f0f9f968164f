package datapush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 常量定义
const (
	RETRY_TIMES     = 5
	RETRY_INTERVAL  = 2 * time.Second
	REQUEST_TIMEOUT = 10 * time.Second
)

// 机器人 webhook 响应结构体，errcode 非 0 表示失败
type WebhookResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Summary 一次管道运行的摘要
type Summary struct {
	RunID             string        `json:"run_id"`
	Source            string        `json:"source"`
	Status            string        `json:"status"`
	Error             string        `json:"error,omitempty"`
	RowsRaw           int           `json:"rows_raw"`
	RowsCleaned       int           `json:"rows_cleaned"`
	RowsFeatures      int           `json:"rows_features"`
	MeanDelay         float64       `json:"mean_delay"`
	Warnings          int           `json:"warnings"`
	OperatingWarnings int           `json:"operating_warnings"`
	Duration          time.Duration `json:"duration"`
	FinishedAt        time.Time     `json:"finished_at"`
}

// Text 推送正文
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "交通延误数据处理 %s\n", s.Status)
	fmt.Fprintf(&b, "运行: %s\n数据集: %s\n", s.RunID, s.Source)
	if s.Error != "" {
		fmt.Fprintf(&b, "错误: %s\n", s.Error)
		return b.String()
	}
	fmt.Fprintf(&b, "原始 %d 行，清洗后 %d 行，训练表 %d 行\n", s.RowsRaw, s.RowsCleaned, s.RowsFeatures)
	fmt.Fprintf(&b, "平均延误 %.2f 分钟，告警 %d 条，运营提示 %d 条\n", s.MeanDelay, s.Warnings, s.OperatingWarnings)
	fmt.Fprintf(&b, "耗时 %v", s.Duration.Round(time.Millisecond))
	return b.String()
}

// Pusher 向群机器人 webhook 推送文本消息
type Pusher struct {
	url      string
	client   *http.Client
	times    int
	interval time.Duration
}

func NewPusher(url string) *Pusher {
	return &Pusher{
		url:      url,
		client:   &http.Client{Timeout: REQUEST_TIMEOUT},
		times:    RETRY_TIMES,
		interval: RETRY_INTERVAL,
	}
}

// WithRetry 调整重试次数与间隔
func (p *Pusher) WithRetry(times int, interval time.Duration) *Pusher {
	if times < 1 {
		times = 1
	}
	p.times, p.interval = times, interval
	return p
}

// Push 推送运行摘要，失败时按间隔重试
func (p *Pusher) Push(ctx context.Context, s Summary) error {
	payload := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": s.Text(),
		},
		"summary": s,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	return retry(ctx, func() error {
		return p.send(ctx, payloadBytes)
	}, p.times, p.interval)
}

func (p *Pusher) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("推送失败: HTTP %d", resp.StatusCode)
	}

	var result WebhookResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("推送失败: %s", result.ErrMsg)
	}
	return nil
}

// 重试函数，ctx 结束时立即返回
func retry(ctx context.Context, fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("重试中断: %w", ctx.Err())
			case <-time.After(interval):
			}
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
