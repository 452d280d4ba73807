package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	base     *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 重建底层 logger，通常在 main 中与日志文件一起使用。
func SetOutput(w io.Writer) {
	mu.Lock()
	base = newLogger(w)
	mu.Unlock()
}

// SetLevel 接受 debug/info/warn/error，未知值回落到 info。
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func active() *slog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = newLogger(os.Stdout)
	}
	return base
}

func Debugf(format string, v ...any) {
	active().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	active().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	active().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	active().Error(fmt.Sprintf(format, v...))
}

// InfoBlock 将多行文本逐行打到 info，便于启动摘要排版。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}

// Scoped carries a fixed component prefix so long-lived loops do not repeat it
// in every format string.
type Scoped struct {
	prefix string
}

// Scope returns a component-scoped logger, e.g. Scope("trader[BTCUSDT]").
func Scope(component string) Scoped {
	component = strings.TrimSpace(component)
	if component == "" {
		return Scoped{}
	}
	return Scoped{prefix: "[" + component + "] "}
}

func (s Scoped) Debugf(format string, v ...any) { Debugf(s.prefix+format, v...) }
func (s Scoped) Infof(format string, v ...any)  { Infof(s.prefix+format, v...) }
func (s Scoped) Warnf(format string, v ...any)  { Warnf(s.prefix+format, v...) }
func (s Scoped) Errorf(format string, v ...any) { Errorf(s.prefix+format, v...) }
