// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor 监控数据源文件的写入和替换
type FileMonitor struct {
	watchDir string
	target   string
	watcher  *fsnotify.Watcher
	lastMod  time.Time
	lastSize int64
	mu       sync.Mutex
}

func NewFileMonitor(path string) (*FileMonitor, error) {
	target, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// 监控所在目录, 文件被替换(rename)后仍能收到事件
	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	m := &FileMonitor{
		watchDir: dir,
		target:   target,
		watcher:  watcher,
	}
	if info, err := os.Stat(target); err == nil {
		m.lastMod, m.lastSize = info.ModTime(), info.Size()
	}
	return m, nil
}

// Watch 阻塞直到 ctx 结束或 watcher 关闭; 目标文件变化时同步调用 handler
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Clean(event.Name) != m.target {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}

			// 改名替换(Create)总是通知; 原地写入按修改时间和大小去重,
			// 时间戳精度为秒时同一秒内的替换也不会丢
			m.mu.Lock()
			changed := event.Has(fsnotify.Create) ||
				!info.ModTime().Equal(m.lastMod) || info.Size() != m.lastSize
			m.lastMod, m.lastSize = info.ModTime(), info.Size()
			m.mu.Unlock()

			if changed {
				handler(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
