package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const termTimeFormat = "01-02|15:04:05.000"

type discardHandler struct{}

// DiscardHandler returns a no-op handler
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, _ slog.Record) error { return nil }

func (h *discardHandler) Enabled(_ context.Context, _ slog.Level) bool { return false }

func (h *discardHandler) WithGroup(_ string) slog.Handler { return h }

func (h *discardHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// TerminalHandler formats records as LEVEL[time] message key=value pairs,
// one record per line.
type TerminalHandler struct {
	mu    sync.Mutex
	wr    io.Writer
	lvl   slog.Level
	attrs []slog.Attr
}

func NewTerminalHandlerWithLevel(wr io.Writer, lvl slog.Level) *TerminalHandler {
	return &TerminalHandler{wr: wr, lvl: lvl}
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(LevelAlignedString(r.Level))
	sb.WriteByte('[')
	sb.WriteString(r.Time.Format(termTimeFormat))
	sb.WriteString("] ")
	sb.WriteString(r.Message)
	for _, attr := range h.attrs {
		writeAttr(&sb, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		writeAttr(&sb, attr)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.wr, sb.String())
	return err
}

func writeAttr(sb *strings.Builder, attr slog.Attr) {
	sb.WriteByte(' ')
	sb.WriteString(attr.Key)
	sb.WriteByte('=')
	val := attr.Value.Resolve()
	if val.Kind() == slog.KindTime {
		sb.WriteString(val.Time().Format(time.RFC3339))
		return
	}
	s := val.String()
	if strings.ContainsAny(s, " \t\n") {
		fmt.Fprintf(sb, "%q", s)
	} else {
		sb.WriteString(s)
	}
}

func (h *TerminalHandler) WithGroup(_ string) slog.Handler { return h }

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TerminalHandler{wr: h.wr, lvl: h.lvl, attrs: merged}
}
