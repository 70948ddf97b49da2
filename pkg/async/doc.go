// Package async runs a function on its own goroutine and hands back a
// Future for its result.
//
//	f := async.Async(ctx, invoiceID, loadInvoice)
//	inv, err := f.AwaitContext(ctx)
//
// AwaitContext gives up when ctx ends and returns ctx.Err(); the goroutine
// keeps running and its result is dropped. AwaitWithTimeout does the same with
// a fixed duration and returns ErrTimeout. If ctx is already done when Async is
// called, fn is never invoked and the future resolves to ctx.Err().
//
// WaitAll collects every result in order and stops at the first error.
// WaitAny returns the index and result of whichever future settles first, or
// ErrNoFutures when called with none.
//
// budget.Await is built on Future: it races an operation against a delivery
// budget and reports budget exhaustion instead of the operation's result.
package async
