// Package correlation tags control-plane requests with a short random ID so
// that a layout change, the render-loop activity it triggers, and any error
// logged on the way can be tied back together. IDs travel in the context and
// surface in logs through the slog handler wrapper.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// attrKey is the attribute name injected into log records.
const attrKey = "correlation_id"

type contextKey struct{}

// NewID returns an 8-character hex ID (4 random bytes). Collisions across a
// broadcast are harmless; the ID only needs to be unique enough to grep for.
func NewID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WithID stores id in the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ID reads the correlation ID back out of ctx. A stored empty string counts
// as absent.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Handler decorates a slog.Handler so every record logged with a
// correlation-carrying context picks up the correlation_id attribute.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String(attrKey, id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("failed to handle log record: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
