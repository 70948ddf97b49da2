// Package budget tracks elapsed time against a deadline and propagates
// cancellation once it is spent.
//
// A Budget is created from a parent context and measures time on the clock
// found in that context (see package clock), so the same code runs against
// wall time in production and virtual time in tests:
//
//	b, err := budget.NewTimeBudget(ctx, 5*time.Second)
//	if err != nil {
//		return err
//	}
//
//	if err := b.RecordEntryAndCheck("load invoice"); err != nil {
//		var exceeded *budget.ExceededError
//		if errors.As(err, &exceeded) {
//			log.Warn("budget spent", slog.String("trace", exceeded.Trace()))
//		}
//		return err
//	}
//
// Exceeding is driven only by the cancellation signal. A time budget is
// cancelled by an action scheduled on its clock at start+duration; elapsed time
// past the deadline is not enough on a virtual clock that has not been
// advanced.
//
// Await and AwaitOr race an operation against the budget. Executor pumps
// posted work on one goroutine until the budget is exceeded or it is closed.
package budget
