package report

import (
	"context"
	"log/slog"
)

// Router fans out results to all configured sinks. One sink error does
// not block the others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendCheck(ctx context.Context, res CheckResult) error {
	return r.each(ctx, "check", func(s Sink) error { return s.SendCheck(ctx, res) })
}

func (r *Router) SendRender(ctx context.Context, res RenderResult) error {
	return r.each(ctx, "render", func(s Sink) error { return s.SendRender(ctx, res) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(ctx context.Context, kind string, fn func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			r.logger.WarnContext(ctx, "report: send failed", "kind", kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
