package taskqueue

import "context"

type progressKey struct{}

// reporter forwards progress for one running task.
type reporter func(percent int)

func withReporter(ctx context.Context, r reporter) context.Context {
	return context.WithValue(ctx, progressKey{}, r)
}

// ReportProgress records progress (clamped to 0..100) for the task whose
// handler received ctx. Values below the last reported progress are ignored.
// It is a no-op outside a handler.
func ReportProgress(ctx context.Context, percent int) {
	r, ok := ctx.Value(progressKey{}).(reporter)
	if !ok || r == nil {
		return
	}
	r(min(max(percent, 0), 100))
}
