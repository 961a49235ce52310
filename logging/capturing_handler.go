package logging

import (
	"context"
	"log/slog"
	"strings"
)

// CapturingHandler passes records through to another handler and keeps a
// structured copy of each one in a LogCollector under a device name.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *LogCollector
	device     string
	attrs      []slog.Attr // from WithAttrs, keys already group-qualified
	groups     []string
}

// NewCapturingHandler creates a CapturingHandler that files records under
// device.
func NewCapturingHandler(underlying slog.Handler, collector *LogCollector, device string) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		device:     device,
	}
}

// Enabled reports true for every level. Debug records are captured even
// when the underlying handler would drop them, so a device's history shows
// its full callback trace.
func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle captures the record and forwards it if the underlying handler
// accepts its level.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, attr := range h.attrs {
		entry.Attributes[attr.Key] = resolveValue(attr.Value)
	}
	prefix := h.groupPrefix()
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[prefix+a.Key] = resolveValue(a.Value)
		return true
	})
	h.collector.AddLog(h.device, entry)

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs returns a CapturingHandler, never the underlying handler, so
// capture survives logger.With chains.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := h.groupPrefix()
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}

	return &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		device:     h.device,
		attrs:      merged,
		groups:     h.groups,
	}
}

// WithGroup returns a CapturingHandler. Captured keys of later attributes
// are qualified as "group.key".
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups)+1)
	copy(groups, h.groups)
	groups[len(h.groups)] = name

	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		device:     h.device,
		attrs:      h.attrs,
		groups:     groups,
	}
}

func (h *CapturingHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// resolveValue converts a slog.Value into something encoding/json can
// render. Errors become their message.
func resolveValue(v slog.Value) any {
	v = v.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindAny:
		val := v.Any()
		if err, ok := val.(error); ok {
			return err.Error()
		}
		if s, ok := val.(interface{ String() string }); ok {
			return s.String()
		}
		return val
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			group[attr.Key] = resolveValue(attr.Value)
		}
		return group
	default:
		return v.Any()
	}
}
