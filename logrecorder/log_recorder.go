package logrecorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRotateInterval 日志文件轮换周期
const DefaultRotateInterval = 5 * time.Minute

// NowString 返回当前时间格式为 "20060102_1504" 的字符串
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir 在 base 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(base string) (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(base, dirName)

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		if err := os.MkdirAll(fullPath, 0755); err != nil {
			return "", fmt.Errorf("创建文件夹失败: %w", err)
		}
		log.Debugf("文件夹已创建: %s", fullPath)
	}
	return fullPath, nil
}

// Setup 设置日志级别与格式
func Setup(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return nil
}

// Recorder 把日志写入日期目录下的文件，并周期性换新文件
type Recorder struct {
	base    string
	name    string
	console bool

	mu   sync.Mutex
	file *os.File
}

// New name 为日志文件前缀名；console 为 true 时同时输出到标准错误
func New(base, name string, console bool) *Recorder {
	return &Recorder{base: base, name: name, console: console}
}

// Open 以当前时间戳打开新的日志文件并替换 logrus 的输出
func (r *Recorder) Open() (string, error) {
	dir, err := MakeDir(r.base)
	if err != nil {
		return "", err
	}
	logPath := filepath.Join(dir, fmt.Sprintf("%s%s.log", r.name, NowString()))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return "", fmt.Errorf("打开日志文件失败: %w", err)
	}

	var out io.Writer = f
	if r.console {
		out = io.MultiWriter(os.Stderr, f)
	}
	r.mu.Lock()
	old := r.file
	r.file = f
	log.SetOutput(out)
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return logPath, nil
}

// Run 每隔 interval 轮换一次日志文件，直到 ctx 取消
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Open(); err != nil {
				// 保留当前输出
				log.Errorf("日志轮换失败: %v", err)
			}
		}
	}
}

// Close 恢复标准错误输出并关闭文件
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.SetOutput(os.Stderr)
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// InitAndRotate 打开日志文件并在后台轮换，返回的函数停止轮换并关闭文件
func InitAndRotate(ctx context.Context, base, logName string, console bool) (func(), error) {
	r := New(base, logName, console)
	if _, err := r.Open(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, DefaultRotateInterval)
	}()
	return func() {
		cancel()
		<-done
		r.Close()
	}, nil
}
