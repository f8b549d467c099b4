package paste

import (
	"context"
	"time"
)

type nowKey struct{}

// WithNow returns a context whose operations observe t as the current time.
// The HTTP layer uses it for deterministic clocks in test mode.
func WithNow(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, nowKey{}, t)
}

// Now returns the time operations on ctx observe.
func (s *Service) Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowKey{}).(time.Time); ok {
		return t
	}
	return s.clock()
}
