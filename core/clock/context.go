package clock

import (
	"context"
	"time"
)

type clockCtx struct{}

// WithClock attaches c to the context.
func WithClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtx{}, c)
}

// FromContext returns the clock attached to ctx, or Real when there is none.
func FromContext(ctx context.Context) Clock {
	if ctx == nil {
		return Real{}
	}
	if c, ok := ctx.Value(clockCtx{}).(Clock); ok && c != nil {
		return c
	}
	return Real{}
}

// StartVirtual creates a virtual clock at start and attaches it to the
// returned context. Only one virtual clock may be active per context chain;
// call Stop on the returned clock to release it.
//
// Example:
//
//	ctx, vc, err := clock.StartVirtual(ctx, time.Now())
//	if err != nil {
//	    return err
//	}
//	defer vc.Stop()
func StartVirtual(ctx context.Context, start time.Time) (context.Context, *VirtualClock, error) {
	if current, ok := ctx.Value(clockCtx{}).(*VirtualClock); ok && current.Active() {
		return ctx, nil, ErrVirtualClockActive
	}

	vc := NewVirtual(start)
	return WithClock(ctx, vc), vc, nil
}
