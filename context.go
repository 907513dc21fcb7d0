package conveyor

import "context"

// ProgressFunc records handler-reported progress for the job currently
// being executed. pct is clamped to [0, 100].
type ProgressFunc func(ctx context.Context, pct int) error

type progressKey struct{}

// WithProgressReporter attaches a progress reporter to the context. The
// worker executor installs one before invoking a handler.
func WithProgressReporter(ctx context.Context, f ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, f)
}

// ReportProgress records progress for the running job. It is a no-op when
// called outside a handler.
func ReportProgress(ctx context.Context, pct int) error {
	f, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return f(ctx, pct)
}
