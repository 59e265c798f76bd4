package ladybug

import (
	"context"
)

// DefaultThreadName is used for point calls made with a context that carries
// no thread name.
const DefaultThreadName = "main"

type threadContextKey struct{}

var threadContextVal threadContextKey

// WithThread returns a context carrying the given thread name. Goroutines that
// take part in a report should each use their own thread name, typically the
// child thread ID passed to ThreadCreatepoint.
func WithThread(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, threadContextVal, name)
}

// ThreadName returns the thread name in the context, or DefaultThreadName.
func ThreadName(ctx context.Context) string {
	if name, ok := MaybeThreadName(ctx); ok {
		return name
	}
	return DefaultThreadName
}

// MaybeThreadName returns the thread name in the context, if it was set.
func MaybeThreadName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(threadContextVal).(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
