// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"KSIDashboard/src/storage"
)

// ====================== 附件处理器实现 ======================

// 可作为数据源的附件类型
var datasetExts = []string{".csv", ".xlsx"}

// AttachmentHandler 将目标邮件中的数据集附件保存到数据目录, 每个 UID 只处理一次
type AttachmentHandler struct {
	TargetSubject string // 目标邮件主题关键词
	DataDir       string // 附件保存目录
	// SaveAs 非空时, 扩展名相同的附件以此文件名保存, 用于覆盖当前数据源
	SaveAs string

	logger        *storage.Logger
	processedUIDs map[uint32]bool
	mu            sync.Mutex
}

func NewAttachmentHandler(subject, dataDir, saveAs string, logger *storage.Logger) *AttachmentHandler {
	if logger == nil {
		logger = storage.NewNopLogger()
	}
	return &AttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		SaveAs:        saveAs,
		logger:        logger,
		processedUIDs: make(map[uint32]bool),
	}
}

// IsProcessed 检查邮件是否已处理过
func (h *AttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processedUIDs[uid]
}

// Handle 保存邮件中的 .csv/.xlsx 附件, 返回写入的文件路径
func (h *AttachmentHandler) Handle(email *Email) ([]string, error) {
	if email == nil {
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.processedUIDs[email.UID] {
		return nil, nil
	}
	if !strings.Contains(email.Subject, h.TargetSubject) {
		h.logger.Debug("跳过主题不匹配的邮件", zap.String("subject", email.Subject))
		return nil, nil
	}

	h.logger.Info("处理邮件",
		zap.Uint32("uid", email.UID),
		zap.String("subject", email.Subject),
		zap.String("from", email.From),
		zap.String("date", email.Date.Format("2006-01-02 15:04:05")),
	)

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}

	var saved []string
	for _, attachment := range email.Attachments {
		name := h.targetName(attachment.Filename)
		if name == "" {
			continue
		}

		filePath := filepath.Join(h.DataDir, name)
		if err := writeFileAtomic(filePath, attachment.Content); err != nil {
			return saved, fmt.Errorf("保存附件失败: %w", err)
		}
		h.logger.Info("附件已保存", zap.String("attachment", attachment.Filename), zap.String("path", filePath))
		saved = append(saved, filePath)
	}

	if len(saved) > 0 {
		h.processedUIDs[email.UID] = true
	}
	return saved, nil
}

// targetName 返回附件的保存文件名, 不是数据集附件时返回空
func (h *AttachmentHandler) targetName(filename string) string {
	base := filepath.Base(filepath.Clean("/" + filename))
	ext := strings.ToLower(filepath.Ext(base))

	known := false
	for _, e := range datasetExts {
		if ext == e {
			known = true
			break
		}
	}
	if !known {
		return ""
	}
	if h.SaveAs != "" && strings.EqualFold(filepath.Ext(h.SaveAs), ext) {
		return filepath.Base(h.SaveAs)
	}
	return base
}

// writeFileAtomic 先写临时文件再改名, 文件监控只会看到完整内容
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ksi-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
