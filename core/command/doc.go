// Package command delivers commands to handlers with scheduling, retries and
// idempotency.
//
// A Delivery wraps a command with its due time, idempotency token, attempt
// counter and free-form properties. Handlers answer every delivery with one
// Result:
//
//   - Complete: the delivery is settled.
//   - Retry: the attempt counter grows and the due time moves by the retry
//     period; the delivery is published again at that time.
//   - Cancel: the delivery is settled without success.
//   - Pause: all deliveries of the command type should be held back; circuit
//     breaker middleware acts on it, the bus keeps the delivery pending.
//
// # Pipeline
//
// Scheduler, Receiver and Handler are the three capabilities of a transport.
// Each can be wrapped with middleware; the first middleware is the outermost:
//
//	h := command.UseMiddleware[SendInvoice](
//	    command.HandlerFunc[SendInvoice](func(ctx context.Context, d *command.Delivery[SendInvoice]) (command.Result[SendInvoice], error) {
//	        if err := billing.Send(ctx, d.Command().ID); err != nil {
//	            return command.Result[SendInvoice]{}, err
//	        }
//	        return d.Complete(), nil
//	    }),
//	    command.Trace[SendInvoice](log),
//	    command.RetryOnError[SendInvoice](nil),
//	)
//
// RetryOnError turns handler errors and panics into Retry results while the
// retry policy allows it and into Cancel afterwards. DefaultRetryPolicy waits
// (attempts+1)^2 minutes.
//
// # Registry
//
// Register attaches a name, receive timeout and retry policy to a command
// type. Unregistered types use their Go type name and the defaults.
//
// # Idempotency tokens
//
// Every delivery is handled inside a delivery context established with its
// token. NewDelivery, called from a handler without an explicit token, derives
// the token from that context:
//
//	base64(sha256("{parent token}:{command type} ({sequence})"))
//
// so re-handling the same delivery schedules follow-up commands with the same
// tokens, and transports deduplicate them.
//
// # MemoryBus
//
// MemoryBus is the in-memory Scheduler and Receiver. Combined with a
// clock.VirtualClock it makes delivery flows fully deterministic:
//
//	vc := clock.NewVirtual(time.Now())
//	bus := command.NewMemoryBus[SendInvoice](command.WithClock(vc))
//	defer bus.Close()
//
//	_, _ = command.ScheduleCommand(ctx, bus, SendInvoice{ID: 1}, command.WithDelay(5*time.Second))
//	res, ok, err := bus.Receive(ctx, h, 10*time.Second) // advances vc by 5s
package command
