package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	globalLevel = slog.LevelInfo
	levelMutex  sync.RWMutex
)

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMutex.Lock()
	defer levelMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	levelMutex.RLock()
	defer levelMutex.RUnlock()

	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to an slog level. Unknown names map to info.
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

func currentLevel() slog.Level {
	levelMutex.RLock()
	defer levelMutex.RUnlock()
	return globalLevel
}

// output is one destination with its own minimum level. When follow is set
// the destination also honours the global level.
type output struct {
	w      io.Writer
	level  slog.Level
	follow bool
}

// Handler writes "[15:04:05] [LEVEL] message k=v" lines to every output whose
// level admits the record.
type Handler struct {
	outs   []output
	mu     *sync.Mutex
	attrs  string // pre-rendered WithAttrs, leading space included
	prefix string // group prefix for attribute keys
}

// NewHandler returns a handler writing to outputs at the global level.
func NewHandler(outputs ...io.Writer) *Handler {
	h := &Handler{mu: &sync.Mutex{}}
	for _, w := range outputs {
		if w != nil {
			h.outs = append(h.outs, output{w: w, follow: true, level: slog.LevelDebug})
		}
	}
	return h
}

// NewMultiLevelHandler creates a handler with a fixed level per output
func NewMultiLevelHandler(outputs map[io.Writer]slog.Level) *Handler {
	h := &Handler{mu: &sync.Mutex{}}
	for w, lvl := range outputs {
		if w != nil {
			h.outs = append(h.outs, output{w: w, level: lvl})
		}
	}
	return h
}

func (o output) admits(level slog.Level) bool {
	if o.follow && level < currentLevel() {
		return false
	}
	return level >= o.level
}

// Enabled implements slog.Handler
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	for _, o := range h.outs {
		if o.admits(level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(record.Time.Format("15:04:05"))
	b.WriteString("] [")
	b.WriteString(strings.ToUpper(record.Level.String()))
	b.WriteString("] ")
	b.WriteString(record.Message)
	b.WriteString(h.attrs)
	record.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	b.WriteString("\n")
	line := []byte(b.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.outs {
		if o.admits(record.Level) {
			_, _ = o.w.Write(line)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}
	h2 := *h
	h2.attrs = b.String()
	return &h2
}

// WithGroup implements slog.Handler
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteString("=")
	b.WriteString(a.Value.String())
}

// InitLogger initializes the global logger with one or more output writers
func InitLogger(outputs ...io.Writer) {
	slog.SetDefault(slog.New(NewHandler(outputs...)))
}

// InitLoggerWithLevels initializes logger with different levels for different outputs
func InitLoggerWithLevels(outputs map[io.Writer]slog.Level) {
	slog.SetDefault(slog.New(NewMultiLevelHandler(outputs)))
}
