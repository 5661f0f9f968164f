package processor

import (
	"TransportDelay/src/storage"
	"fmt"
	"sync"
)

// AuditLog 按顺序记录管道执行的操作，只用于观测，不参与计算
type AuditLog struct {
	mu       sync.Mutex
	entries  []string
	warnings int
	logger   *storage.Logger
}

// NewAuditLog logger 可以为 nil
func NewAuditLog(logger *storage.Logger) *AuditLog {
	return &AuditLog{logger: logger}
}

func (a *AuditLog) Add(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	a.mu.Lock()
	a.entries = append(a.entries, msg)
	a.mu.Unlock()
	if a.logger != nil {
		a.logger.Info(msg)
	}
}

// Warn 记录一次降级处理
func (a *AuditLog) Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	a.mu.Lock()
	a.entries = append(a.entries, "警告: "+msg)
	a.warnings++
	a.mu.Unlock()
	if a.logger != nil {
		a.logger.Warning(msg)
	}
}

// Detail 只写调试日志，不进入审计记录
func (a *AuditLog) Detail(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debug(fmt.Sprintf(format, args...))
	}
}

func (a *AuditLog) Entries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *AuditLog) Warnings() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warnings
}
