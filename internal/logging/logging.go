// Package logging builds the zap logger shared by every tinyMem command.
//
// Output never goes to stdout: stdout carries the JSON-RPC stream in mcp
// mode and user-facing text in CLI mode.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config level name onto a zap level. "off" disables
// everything below fatal.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "off":
		return zap.FatalLevel + 1
	default:
		return zap.InfoLevel
	}
}

// New returns a logger writing JSON lines to logPath at the configured level
// and warnings or worse to stderr. An empty logPath logs to stderr only.
// The returned close function flushes and releases the file.
func New(level, logPath string) (*zap.Logger, func(), error) {
	lvl := ParseLevel(level)
	stderrLevel := lvl
	if logPath != "" && stderrLevel < zap.WarnLevel {
		stderrLevel = zap.WarnLevel
	}

	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		stderrLevel,
	)
	if logPath == "" {
		logger := zap.New(console, zap.AddCaller())
		return logger, func() { _ = logger.Sync() }, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", logPath, err)
	}

	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		lvl,
	)
	logger := zap.New(zapcore.NewTee(file, console), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	return logger, func() {
		_ = logger.Sync()
		_ = f.Close()
	}, nil
}

// DefaultPath is where logs go when the config names no file.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "tinymem.log")
}
