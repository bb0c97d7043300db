package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	purple = "\033[35m"
	cyan   = "\033[36m"
	gray   = "\033[37m"
	white  = "\033[97m"
)

// New builds the process logger. format "json" selects slog's JSON handler,
// anything else the colored console handler.
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(NewPrettyHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// PrettyHandler renders one colored line per record for local development.
type PrettyHandler struct {
	level  slog.Leveler
	w      io.Writer
	mu     *sync.Mutex
	prefix string
	pre    []byte
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return red
	case l >= slog.LevelWarn:
		return yellow
	case l >= slog.LevelInfo:
		return green
	default:
		return purple
	}
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s%s%s %s%-5s%s %s%s%s",
		gray, r.Time.Format("15:04:05.000"), reset,
		levelColor(r.Level), r.Level.String(), reset,
		white, r.Message, reset)
	b.Write(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(b.Bytes())
	return err
}

func appendAttr(b *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix, ga)
		}
		return
	}

	keyColor := cyan
	if a.Key == "error" {
		keyColor = red
	}

	var val any
	switch a.Value.Kind() {
	case slog.KindTime:
		val = a.Value.Time().Format(time.RFC3339)
	case slog.KindDuration:
		val = a.Value.Duration().String()
	default:
		val = a.Value.Any()
	}
	fmt.Fprintf(b, " %s%s%s%s=%v", keyColor, prefix, a.Key, reset, val)
}

// WithAttrs renders attrs once so later records only append bytes.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	var b bytes.Buffer
	b.Write(h.pre)
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}

	child := *h
	child.pre = b.Bytes()
	return &child
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	child := *h
	child.prefix = h.prefix + name + "."
	return &child
}
