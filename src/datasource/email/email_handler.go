// email_handler.go
package email

import (
	"TransportDelay/src/storage"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ====================== 邮件处理器实现 ======================

// AttachmentHandler 保存目标邮件中的 csv/xlsx 数据集附件
type AttachmentHandler struct {
	TargetSubject string          // 目标邮件主题关键词
	DataDir       string          // 附件保存目录
	logger        *storage.Logger // 可以为 nil
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewAttachmentHandler(subject, dataDir string, logger *storage.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		logger:        logger,
		processedUIDs: make(map[uint32]bool),
	}
}

// IsProcessed 检查邮件是否已处理过（线程安全）
func (h *AttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 实现 EmailHandler
func (h *AttachmentHandler) Handle(email *Email) error {
	_, err := h.Save(email)
	return err
}

// Save 保存数据集附件并返回文件路径。已处理或主题不匹配的邮件返回空列表。
func (h *AttachmentHandler) Save(email *Email) ([]string, error) {
	if h.IsProcessed(email.UID) {
		return nil, nil
	}

	if !strings.Contains(email.Subject, h.TargetSubject) {
		h.info(fmt.Sprintf("跳过主题不匹配的邮件: %s", email.Subject))
		return nil, nil
	}

	h.info(fmt.Sprintf("处理邮件: %s 发件人: %s 日期: %s",
		email.Subject, email.From, email.Date.Format("2006-01-02 15:04:05")))

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}

	var saved []string
	for _, attachment := range email.Attachments {
		name := safeName(attachment.Filename)
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}

		filePath := filepath.Join(h.DataDir, name)
		if err := os.WriteFile(filePath, attachment.Content, 0644); err != nil {
			return saved, fmt.Errorf("保存附件失败: %w", err)
		}
		h.info(fmt.Sprintf("附件已保存到: %s", filePath))
		saved = append(saved, filePath)
	}

	// 有数据集附件时才标记，便于发件人补发
	if len(saved) > 0 {
		h.markAsProcessed(email.UID)
	}
	return saved, nil
}

func (h *AttachmentHandler) info(msg string) {
	if h.logger != nil {
		h.logger.Info(msg)
	}
}
