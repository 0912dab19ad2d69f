// Package observability configures process-wide logging.
//
// Log records always go to stderr as text or JSON. When an exporter is selected they
// are additionally bridged into an OpenTelemetry LoggerProvider, which exports them to
// stdout or to an OTLP collector configured through the standard OTEL_EXPORTER_OTLP_*
// environment variables.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies records bridged from slog.
const instrumentationName = "github.com/florianilch/credcache"

// ShutdownFunc flushes pending log records and stops the export pipeline.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger writing to stderr.
// format is "text" or "json"; exporter is "", "none", "stdout", "otlp-http" or "otlp-grpc".
func Instrument(ctx context.Context, level slog.Level, format, exporter string) (ShutdownFunc, error) {
	return instrument(ctx, os.Stderr, level, format, exporter)
}

func instrument(ctx context.Context, w io.Writer, level slog.Level, format, exporter string) (ShutdownFunc, error) {
	opts := &slog.HandlerOptions{Level: level}

	var local slog.Handler
	switch format {
	case "text", "":
		local = slog.NewTextHandler(w, opts)
	case "json":
		local = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}

	if exporter == "" || exporter == "none" {
		slog.SetDefault(slog.New(local))
		return func(context.Context) error { return nil }, nil
	}

	processor, err := newProcessor(ctx, w, exporter)
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", exporter, err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severityFor(level))),
	)
	global.SetLoggerProvider(provider)

	// Exporter errors go to the local handler only, never back into the export pipeline
	localLogger := slog.New(local)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		localLogger.Error("log export failed", "error", err)
	}))

	bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(fanout{local, bridge}))

	return provider.Shutdown, nil
}

// newProcessor creates the export processor. The stdout exporter is synchronous so
// short-lived commands do not drop records; OTLP exporters are batched.
func newProcessor(ctx context.Context, w io.Writer, exporter string) (sdklog.Processor, error) {
	switch exporter {
	case "stdout":
		exp, err := stdoutlog.New(stdoutlog.WithWriter(w))
		if err != nil {
			return nil, err
		}
		return sdklog.NewSimpleProcessor(exp), nil
	case "otlp-http":
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exp), nil
	case "otlp-grpc":
		exp, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exp), nil
	default:
		return nil, errors.New("unsupported exporter")
	}
}

// severityFor maps a slog level to the minimum OpenTelemetry severity exported.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanout dispatches every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
