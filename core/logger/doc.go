// Package logger provides structured logging utilities built on Go's standard slog package.
//
// # Basic Usage
//
//	import "github.com/dmitrymomot/courier/core/logger"
//
//	// Development: text format, debug level, stdout
//	log := logger.New(logger.WithDevelopment("billing-worker"))
//
//	// Production: JSON format, info level, stdout
//	log := logger.New(logger.WithProduction("billing-worker"))
//
//	// Custom configuration
//	log := logger.New(
//		logger.WithLevel(slog.LevelWarn),
//		logger.WithJSONFormatter(),
//		logger.WithAttr(slog.String("region", "eu-west-1")),
//		logger.WithOutput(os.Stderr),
//	)
//
// Components in this module default to Discard() and take a logger through a
// With...Logger option.
//
// # Attribute Helpers
//
// Helpers return an empty slog.Attr for nil or empty values, so they can be
// passed unconditionally:
//
//	log.ErrorContext(ctx, "delivery failed",
//		logger.Component("memory_bus"),
//		logger.CommandType("SendInvoice"),
//		logger.IdempotencyToken(token),
//		logger.Attempts(attempts),
//		logger.Error(err),
//	)
//
// Elapsed takes the current time explicitly so durations measured on a
// virtual clock are reported in virtual time:
//
//	log.Info("checkpoint", logger.Elapsed(start, clk.Now()))
//
// # Testing with Custom Output
//
//	var buf bytes.Buffer
//	log := logger.New(logger.WithJSONFormatter(), logger.WithOutput(&buf))
//	log.Info("Test message", logger.Component("test"))
//	assert.Contains(t, buf.String(), `"component":"test"`)
package logger
