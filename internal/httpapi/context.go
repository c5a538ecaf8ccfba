package httpapi

import "context"

// joinContexts returns a context canceled as soon as any parent is done,
// carrying that parent's cause. cancel detaches the parent watchers and must
// be called when the handler returns.
func joinContexts(parents ...context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())
	stops := make([]func() bool, 0, len(parents))
	for _, p := range parents {
		stops = append(stops, context.AfterFunc(p, func() { cancel(context.Cause(p)) }))
	}
	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel(context.Canceled)
	}
}
