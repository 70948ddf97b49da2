// Package health aggregates dependency probes into liveness and readiness
// checks.
//
// Probes follow the func(context.Context) error signature used by
// MemoryBus.Healthcheck, redis.Healthcheck and pg.Healthcheck:
//
//	ready := health.Readiness(log,
//		health.Named("bus", bus.Healthcheck),
//		health.Named("postgres", pg.Healthcheck(pool)),
//	)
package health
