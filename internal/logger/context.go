package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

const (
	requestIDKey contextKey = iota
	featureIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithFeatureID returns a new context tagged with the workflow being operated on.
func WithFeatureID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, featureIDKey, id)
}

// FeatureID extracts the feature workflow ID from the context.
func FeatureID(ctx context.Context) string {
	id, _ := ctx.Value(featureIDKey).(string)
	return id
}

// contextAttrs returns the log attributes carried by ctx that rec does not
// already set. An explicit attribute on the call wins over the context value.
func contextAttrs(ctx context.Context, rec *slog.Record) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id := RequestID(ctx); id != "" && !hasAttr(rec, "request_id") {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id := FeatureID(ctx); id != "" && !hasAttr(rec, "feature_id") {
		attrs = append(attrs, slog.String("feature_id", id))
	}
	return attrs
}

func hasAttr(rec *slog.Record, key string) bool {
	found := false
	rec.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}

// contextHandler copies request-scoped values from the context onto each record.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if attrs := contextAttrs(ctx, &rec); len(attrs) > 0 {
		rec = rec.Clone()
		rec.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
