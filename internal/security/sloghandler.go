package security

import (
	"context"
	"log/slog"
)

// RedactingHandler wraps a slog.Handler and masks secret material in
// every record before the inner handler formats it. The manager, the
// provider modules, and the sinks all log through one root logger, so
// wrapping here covers token values wherever a log call originates.
type RedactingHandler struct {
	inner    slog.Handler
	redactor *Redactor
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps inner so that every string that reaches it
// has passed through redactor.
func NewRedactingHandler(inner slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{inner: inner, redactor: redactor}
}

// Enabled delegates to the inner handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle rebuilds the record with the message and every attribute
// redacted, then delegates to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redactor.Redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs redacts the attributes once and folds them into the inner
// handler, so repeated log calls do not re-scan them.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean), redactor: h.redactor}
}

// WithGroup delegates grouping to the inner handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

// redactAttr redacts string values, recursing into groups. Attributes
// are resolved first so LogValuer, error, and fmt.Stringer types are
// scanned in their final representation, not their dynamic type.
func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(h.redactor.Redact(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			clean[i] = h.redactAttr(ga)
		}
		a.Value = slog.GroupValue(clean...)
	case slog.KindAny:
		// Wrapped errors are the usual leak path here: provider errors
		// can quote the HTTP exchange they came from.
		rendered := a.Value.String()
		if clean := h.redactor.Redact(rendered); clean != rendered {
			a.Value = slog.StringValue(clean)
		}
	}
	return a
}
