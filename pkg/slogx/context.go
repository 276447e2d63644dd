package slogx

import (
	"context"
	"log/slog"
	"sync"
)

type ctxKey struct{}

type annotationsKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithAttrs returns ctx with its logger extended by args.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}

// annotations collects attributes added by inner handlers so the outer
// request log line can include them (e.g. the authenticated user id).
type annotations struct {
	mu    sync.Mutex
	attrs []any
}

// Annotate records args on the request log line written by HTTPMiddleware.
// It is a no-op outside a request.
func Annotate(ctx context.Context, args ...any) {
	a, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.attrs = append(a.attrs, args...)
	a.mu.Unlock()
}

func (a *annotations) snapshot() []any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]any(nil), a.attrs...)
}
