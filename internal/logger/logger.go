// Package logger configures slog and carries per-request log fields in the context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog logger writing to stdout.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger with the given level ("debug", "info", "warn", "error")
// and format ("text" or "json").
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewContextHandler(handler))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
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

// Fields are attributes attached to every record logged with the context.
type Fields struct {
	Component      string
	ConversationID string
	ViewID         string
}

type fieldsKey struct{}

// WithFields returns a context carrying fields merged over any already present.
func WithFields(ctx context.Context, f Fields) context.Context {
	cur := GetFields(ctx)
	if f.Component != "" {
		cur.Component = f.Component
	}
	if f.ConversationID != "" {
		cur.ConversationID = f.ConversationID
	}
	if f.ViewID != "" {
		cur.ViewID = f.ViewID
	}
	return context.WithValue(ctx, fieldsKey{}, cur)
}

// GetFields returns the fields stored in ctx.
func GetFields(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// ContextHandler adds Fields from the context to each record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	f := GetFields(ctx)
	if f.Component != "" {
		r.AddAttrs(slog.String("component", f.Component))
	}
	if f.ConversationID != "" {
		r.AddAttrs(slog.String("conversation_id", f.ConversationID))
	}
	if f.ViewID != "" {
		r.AddAttrs(slog.String("view_id", f.ViewID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
