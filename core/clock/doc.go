// Package clock provides the time source used by the command pipeline.
//
// Two implementations are available. Real delegates to the wall clock and
// schedules actions with time.AfterFunc. VirtualClock keeps its own notion of
// "now" and an ordered list of scheduled actions that only run when the clock
// is advanced, which makes time-dependent code deterministic under test.
//
// # Virtual Time
//
//	ctx, vc, err := clock.StartVirtual(context.Background(), time.Now())
//	if err != nil {
//	    return err
//	}
//	defer vc.Stop()
//
//	vc.Schedule(vc.Now().Add(5*time.Second), func() { fmt.Println("tick") })
//	_ = vc.AdvanceBy(5 * time.Second) // prints "tick"
//
// AdvanceTo invokes actions in due order. Actions sharing a due time run in
// the order they were scheduled. When an action due exactly at the target is
// invoked the call returns without draining other actions due at that same
// instant, so a zero-length advance runs one action at a time.
//
// # Ambient Clock
//
// The current clock travels in a context.Context. FromContext falls back to
// Real, so production code does not need to attach anything:
//
//	now := clock.FromContext(ctx).Now()
//
// Wait is the portable way to let time pass: it advances a virtual clock and
// sleeps on any other.
package clock
