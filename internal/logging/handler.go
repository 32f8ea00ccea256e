package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ComponentKey is the attribute rendered as the line's tag.
const ComponentKey = "component"

var componentColors = map[string]color.Attribute{
	"NODE":     color.FgCyan,
	"PLAYER":   color.FgHiMagenta,
	"HEALTH":   color.FgYellow,
	"MOCKNODE": color.FgBlue,
	"ADMIN":    color.FgGreen,
	"GATEWAY":  color.FgHiBlue,
}

// Options configures a ConsoleHandler.
type Options struct {
	Level   slog.Leveler
	NoColor bool
}

// ConsoleHandler writes human-oriented colored lines. It is safe for
// concurrent use; handlers derived with WithAttrs share the writer lock.
type ConsoleHandler struct {
	w         io.Writer
	opts      Options
	mu        *sync.Mutex
	component string
	attrs     []slog.Attr
	group     string
}

// NewConsoleHandler returns a handler writing one line per record to w.
func NewConsoleHandler(w io.Writer, opts *Options) *ConsoleHandler {
	h := &ConsoleHandler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

// New returns a logger writing to w at level.
func New(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(NewConsoleHandler(w, &Options{Level: level, NoColor: noColor}))
}

// ParseLevel maps debug, info, warn and error, in any case, to a level.
// Anything else is info.
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

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	var extra []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ComponentKey && h.group == "" {
			component = strings.ToUpper(a.Value.String())
			return true
		}
		extra = append(extra, h.qualify(a))
		return true
	})

	levelStr, levelColor := h.level(r.Level)

	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(ts.Format("15:04:05"))

	if component != "" {
		if r.Level != slog.LevelInfo {
			b.WriteString(" ")
			b.WriteString(levelColor.Sprintf("[%s]", levelStr))
		}
		b.WriteString(" ")
		b.WriteString(h.componentColor(component).Sprintf("[%s] %s", component, r.Message))
	} else {
		b.WriteString(" ")
		b.WriteString(levelColor.Sprintf("[%s] %s", levelStr, r.Message))
	}

	attrs := append(append([]slog.Attr(nil), h.attrs...), extra...)
	if len(attrs) > 0 {
		faint := h.color(color.Faint)
		for _, a := range attrs {
			b.WriteString(" ")
			b.WriteString(faint.Sprintf("%s=%v", a.Key, a.Value.Resolve()))
		}
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == ComponentKey && h.group == "" {
			next.component = strings.ToUpper(a.Value.String())
			continue
		}
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func (h *ConsoleHandler) qualify(a slog.Attr) slog.Attr {
	if h.group == "" {
		return a
	}
	return slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
}

func (h *ConsoleHandler) level(l slog.Level) (string, *color.Color) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", h.color(color.FgHiRed)
	case l >= slog.LevelWarn:
		return "WARN", h.color(color.FgHiYellow)
	case l >= slog.LevelInfo:
		return "INFO", h.color(color.FgHiBlack)
	default:
		return "DEBUG", h.color(color.FgHiBlack, color.Faint)
	}
}

func (h *ConsoleHandler) componentColor(component string) *color.Color {
	if attr, ok := componentColors[component]; ok {
		return h.color(attr)
	}
	return h.color(color.FgCyan)
}

func (h *ConsoleHandler) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if h.opts.NoColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

var _ slog.Handler = (*ConsoleHandler)(nil)
