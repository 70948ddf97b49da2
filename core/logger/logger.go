package logger

import (
	"io"
	"log/slog"
	"os"
)

type config struct {
	level       slog.Leveler
	json        bool
	output      io.Writer
	attrs       []slog.Attr
	handlerOpts *slog.HandlerOptions
}

// Option configures a logger built by New.
type Option func(*config)

// New builds a *slog.Logger. Without options it writes text at info level to
// stdout.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{}
	if cfg.handlerOpts != nil {
		*handlerOpts = *cfg.handlerOpts
	}
	if handlerOpts.Level == nil {
		handlerOpts.Level = cfg.level
	}

	var h slog.Handler
	if cfg.json {
		h = slog.NewJSONHandler(cfg.output, handlerOpts)
	} else {
		h = slog.NewTextHandler(cfg.output, handlerOpts)
	}

	if len(cfg.attrs) > 0 {
		h = h.WithAttrs(cfg.attrs)
	}

	return slog.New(h)
}

// Discard returns a logger that drops every record. Components use it as their
// default so they stay silent unless given a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetAsDefault installs l as the slog default logger.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Leveler) Option {
	return func(c *config) {
		if level != nil {
			c.level = level
		}
	}
}

// WithJSONFormatter switches output to JSON.
func WithJSONFormatter() Option {
	return func(c *config) { c.json = true }
}

// WithTextFormatter switches output to key=value text.
func WithTextFormatter() Option {
	return func(c *config) { c.json = false }
}

// WithOutput sets the writer records go to.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// WithHandlerOptions overrides the slog handler options. A nil Level in opts
// falls back to the level set with WithLevel.
func WithHandlerOptions(opts *slog.HandlerOptions) Option {
	return func(c *config) { c.handlerOpts = opts }
}

// WithDevelopment configures text output at debug level tagged with service.
func WithDevelopment(service string) Option {
	return func(c *config) {
		c.json = false
		c.level = slog.LevelDebug
		c.attrs = append(c.attrs, slog.String("service", service), slog.String("env", "development"))
	}
}

// WithStaging configures JSON output at info level tagged with service.
func WithStaging(service string) Option {
	return func(c *config) {
		c.json = true
		c.level = slog.LevelInfo
		c.attrs = append(c.attrs, slog.String("service", service), slog.String("env", "staging"))
	}
}

// WithProduction configures JSON output at info level tagged with service.
func WithProduction(service string) Option {
	return func(c *config) {
		c.json = true
		c.level = slog.LevelInfo
		c.attrs = append(c.attrs, slog.String("service", service), slog.String("env", "production"))
	}
}
