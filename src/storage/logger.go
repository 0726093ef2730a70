package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"KSIDashboard/src/config"
)

// LogLevel 定义日志级别类型
type LogLevel int

// 日志级别常量定义
const (
	DEBUG   LogLevel = iota // 调试信息
	INFO                    // 普通信息
	WARNING                 // 警告信息
	ERROR                   // 错误信息
	FATAL                   // 致命错误, 只记录不退出
)

// Logger 日志记录器: zap 编码, 写入文件并分发给订阅者
type Logger struct {
	filename    string
	file        io.WriteCloser // 日志文件句柄
	mu          sync.Mutex     // 保护 file 和 subscribers
	subscribers []chan string  // 订阅者通道列表
	zl          *zap.Logger
}

// NewLogger 创建新的日志记录器
// 参数:
//
//	filename: 日志文件路径
func NewLogger(filename string) (*Logger, error) {
	file, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}

	l := &Logger{filename: filename, file: file}
	l.zl = newZap(l)
	return l, nil
}

// NewNopLogger 不写文件的记录器, 订阅者仍能收到消息
func NewNopLogger() *Logger {
	l := &Logger{}
	l.zl = newZap(l)
	return l
}

func newZap(w zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), w, zapcore.DebugLevel)
	return zap.New(core)
}

func openLogFile(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// Write 由 zap core 调用, 每次一条完整日志
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(p)
	if l.file != nil {
		var err error
		if n, err = l.file.Write(p); err != nil {
			return n, err
		}
	}

	entry := string(p)
	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default: // 通道已满则跳过
		}
	}
	return n, nil
}

// Sync 实现 zapcore.WriteSyncer
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.file.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

// Close 关闭日志文件
func (l *Logger) Close() error {
	_ = l.zl.Sync()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Reopen 重新打开日志文件(SIGHUP 时调用)
// 参数：
// filename：新文件的路径, 为空则沿用原路径
func (l *Logger) Reopen(filename string) error {
	if filename == "" {
		filename = l.filename
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
	}

	file, err := openLogFile(filename)
	if err != nil {
		l.file = nil
		return err
	}
	l.filename = filename
	l.file = file
	return nil
}

// Log 记录日志方法
func (l *Logger) Log(level LogLevel, message string, fields ...zap.Field) {
	switch level {
	case DEBUG:
		l.zl.Debug(message, fields...)
	case INFO:
		l.zl.Info(message, fields...)
	case WARNING:
		l.zl.Warn(message, fields...)
	case ERROR:
		l.zl.Error(message, fields...)
	default:
		l.zl.Error(message, append(fields, zap.String("severity", level.String()))...)
	}
}

// Zap 返回底层 zap.Logger
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// CheckRotate 日志文件超过 cfg.LogMaxSize 时轮转
func (l *Logger) CheckRotate(cfg *config.Config) error {
	limit := eval(cfg.LogMaxSize)
	if limit <= 0 {
		return nil
	}

	l.mu.Lock()
	f, ok := l.file.(*os.File)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}

	if info.Size() > limit {
		return l.rotateLog()
	}
	return nil
}

func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
		ext := filepath.Ext(l.filename)
		rotated := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(l.filename, ext), time.Now().Format("20060102150405"), ext)
		if err := os.Rename(l.filename, rotated); err != nil {
			return fmt.Errorf("rename log file: %w", err)
		}
	}

	file, err := openLogFile(l.filename)
	if err != nil {
		l.file = nil
		return fmt.Errorf("reopen log file: %w", err)
	}
	l.file = file
	return nil
}

// Subscribe 订阅日志消息
// 返回值:
//
//	chan string: 用于接收日志消息, 用完调用 Unsubscribe
func (l *Logger) Subscribe() chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan string, 100)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅
func (l *Logger) Unsubscribe(ch chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, sub := range l.subscribers {
		if sub == ch {
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			return
		}
	}
}

// String 实现LogLevel的String方法
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// eval 计算 "10 * 1024 * 1024" 形式的大小表达式, 非法时返回 0
func eval(expr string) int64 {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	var result int64 = 1
	for _, part := range strings.Split(expr, "*") {
		num, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		result *= num
	}
	return result
}

// 以下是快捷日志方法
func (l *Logger) Debug(msg string, fields ...zap.Field)   { l.Log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)    { l.Log(INFO, msg, fields...) }
func (l *Logger) Warning(msg string, fields ...zap.Field) { l.Log(WARNING, msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field)   { l.Log(ERROR, msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field)   { l.Log(FATAL, msg, fields...) }
