package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/credcache/internal/app"
	"github.com/florianilch/credcache/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ, os.Stdin, os.Stdout).Run(ctx, args)
}

func newRootCommand(environFunc func() []string, stdin io.Reader, stdout io.Writer) *cli.Command {
	r := &runner{environFunc: environFunc}

	return &cli.Command{
		Name:      "credcache",
		Usage:     "Local cache for short-lived authentication tokens",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to a dotenv file with CREDCACHE_ variables",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "telemetry--exporter",
				Usage: "log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigTelemetryExporter),
			},
			&cli.StringFlag{
				Name:  "cache--dir",
				Usage: "directory holding the credential cache file (default: home directory)",
			},
			&cli.StringFlag{
				Name:  "storage--backend",
				Usage: "token storage (auto|file|keyring|env)",
				Value: string(app.DefaultConfigStorageBackend),
			},
			&cli.StringFlag{
				Name:  "storage--keyring-service",
				Usage: "keyring service name",
				Value: app.DefaultConfigKeyringService,
			},
			&cli.StringFlag{
				Name:  "storage--env-prefix",
				Usage: "environment variable prefix for env storage",
				Value: app.DefaultConfigEnvPrefix,
			},
		},
		Commands: []*cli.Command{
			pathCommand(r),
			readCommand(r),
			writeCommand(r),
			removeCommand(r),
			tokenCommand(r),
		},
	}
}

// runner builds the application for a command invocation.
type runner struct {
	environFunc func() []string
}

// action wraps fn with configuration loading, logging setup and App construction.
func (r *runner) action(fn func(ctx context.Context, cmd *cli.Command, application *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		environFunc, err := resolveEnviron(cmd.String("env-file"), r.environFunc)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg, err := loadConfig(cmd.String("config"), "", cmd, environFunc)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), string(cfg.Telemetry.Exporter))
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				fmt.Fprintf(cmd.Root().ErrWriter, "flushing logs: %v\n", err)
			}
		}()

		application, err := app.New(ctx, cfg, app.WithEnviron(environFunc))
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}

		return fn(ctx, cmd, application)
	}
}
