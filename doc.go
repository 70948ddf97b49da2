// Package courier delivers typed commands with deduplication, retries and
// per command type circuit breaking, on a clock that can be virtual in tests.
//
// # Getting Documentation
//
//	go doc github.com/dmitrymomot/courier/core/command
//	go doc -all github.com/dmitrymomot/courier/core/circuitbreaker
//
// # Core Packages
//
//	github.com/dmitrymomot/courier/core/clock          - Clock abstraction with a virtual clock for deterministic tests
//	github.com/dmitrymomot/courier/core/budget         - Time budgets, budgeted executor and awaiting futures within a budget
//	github.com/dmitrymomot/courier/core/command        - Deliveries, results, delivery context tokens, middleware and the in-memory bus
//	github.com/dmitrymomot/courier/core/circuitbreaker - Breaker state machine, brokers, stores and delivery middleware
//	github.com/dmitrymomot/courier/core/config         - Type-safe environment variable loading
//	github.com/dmitrymomot/courier/core/logger         - Structured logging built on slog
//	github.com/dmitrymomot/courier/core/health         - Liveness and readiness probes
//
// # Utilities
//
//	github.com/dmitrymomot/courier/pkg/async - Generic futures
//
// # Integrations
//
//	github.com/dmitrymomot/courier/integration/database/redis          - Redis client with retries and healthcheck
//	github.com/dmitrymomot/courier/integration/database/pg             - PostgreSQL pool, migrations and transaction context
//	github.com/dmitrymomot/courier/integration/circuitbreaker/redisstore  - Breaker store on Redis with keyspace notifications
//	github.com/dmitrymomot/courier/integration/circuitbreaker/pgstore     - Breaker store on PostgreSQL with LISTEN/NOTIFY
//	github.com/dmitrymomot/courier/integration/circuitbreaker/sqlitestore - Breaker store on a SQLite file
//	github.com/dmitrymomot/courier/integration/transport/kafka         - Scheduler and receiver over Kafka topics
//
// # Applications
//
//	github.com/dmitrymomot/courier/app/worker - Single-process worker wiring the bus, breaker and health probes
//
// # Quick Start
//
//	type SendInvoice struct{ ID int }
//
//	app, err := worker.NewApp[SendInvoice]()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer app.Close()
//
//	unsubscribe, err := app.Subscribe(ctx, command.HandlerFunc[SendInvoice](
//		func(ctx context.Context, d *command.Delivery[SendInvoice]) (command.Result[SendInvoice], error) {
//			if err := send(ctx, d.Command()); err != nil {
//				return command.Result[SendInvoice]{}, err // retried by policy
//			}
//			return d.Complete(), nil
//		},
//	))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer unsubscribe()
//
//	_, err = app.Schedule(ctx, SendInvoice{ID: 42}, command.WithDelay(time.Minute))
package courier
