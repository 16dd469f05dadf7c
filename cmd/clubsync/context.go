package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miocrobos/habicht-directory/internal/app"
	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/observability"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

const shutdownTimeout = 10 * time.Second

var tracer = otel.Tracer("habicht-directory/cmd/clubsync")

// commandContext carries state shared by every subcommand: configuration,
// the logger and the observability shutdown hooks.
type commandContext struct {
	envFile string

	loadConfig func() (config.Config, error)
	newApp     func(ctx context.Context, cfg config.Config, logger *logging.Logger, opts app.Options) (*app.App, error)

	cfg      config.Config
	logger   *logging.Logger
	shutdown []func(context.Context) error
}

func newCommandContext() *commandContext {
	return &commandContext{
		envFile:    ".env",
		loadConfig: config.Load,
		newApp:     app.New,
	}
}

// setup loads configuration and starts logging, tracing and profiling. Logs
// go to stderr so stdout stays machine readable.
func (c *commandContext) setup(cmd *cobra.Command) error {
	if _, err := config.LoadDotEnv(c.envFile); err != nil {
		return err
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	base := logging.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel).With(
		"service", cfg.ServiceName,
		"env", cfg.AppEnv,
	)
	logger, stopBetterStack, err := observability.InitBetterStackLogger(cfg, base)
	if err != nil {
		return fmt.Errorf("init betterstack: %w", err)
	}
	c.logger = logger
	c.shutdown = append(c.shutdown, stopBetterStack)
	logging.SetDefault(logger)

	stopUptrace, err := observability.InitUptrace(cfg, logger)
	if err != nil {
		return fmt.Errorf("init uptrace: %w", err)
	}
	c.shutdown = append(c.shutdown, stopUptrace)

	stopPyroscope, err := observability.InitPyroscope(cfg, logger)
	if err != nil {
		return fmt.Errorf("init pyroscope: %w", err)
	}
	c.shutdown = append(c.shutdown, func(context.Context) error { return stopPyroscope() })
	return nil
}

// teardown flushes telemetry in reverse order of setup.
func (c *commandContext) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(c.shutdown) - 1; i >= 0; i-- {
		if err := c.shutdown[i](ctx); err != nil && c.logger != nil {
			c.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	c.shutdown = nil
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *commandContext) open(ctx context.Context, opts app.Options) (*app.App, error) {
	a, err := c.newApp(ctx, c.cfg, c.logger, opts)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return a, nil
}

// startSpan opens the root span of a command; the usecase layer only traces
// below an existing span. Profiles taken during the command carry its name.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = observability.LabelProfile(ctx, "command", name)
	return tracer.Start(ctx, "clubsync."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func closeApp(a *app.App, logger *logging.Logger) {
	if err := a.Close(); err != nil && logger != nil {
		logger.Warn("close app", "error", err)
	}
}
