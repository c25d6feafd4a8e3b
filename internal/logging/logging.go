package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"printgrid/internal/config"
)

// ParseLevel 将配置中的日志级别转换为 slog.Level，未知值回落到 info。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 根据配置构造 slog.Logger。
// 配置了 LOG_FILE 时同时写 stdout 与按大小滚动的日志文件；返回的 io.Closer 用于关闭文件。
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	if strings.TrimSpace(cfg.File) == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nopCloser{}
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   false,
	}

	w := io.MultiWriter(os.Stdout, lj)
	return slog.New(slog.NewTextHandler(w, opts)), lj
}

// Discard 返回丢弃所有输出的 logger，供测试与 CLI 静默模式使用。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
