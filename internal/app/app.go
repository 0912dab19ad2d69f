package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/florianilch/credcache/internal/tokenstore"
)

// App wires the configured token store.
type App struct {
	cfg   *Config
	store tokenstore.Store
}

// Option configures how New builds the App.
type Option func(*options)

type options struct {
	environ func() []string
}

// WithEnviron sets the environment the env backend reads tokens from. It should be
// the same list the configuration was loaded from. Defaults to the process environment.
func WithEnviron(environ func() []string) Option {
	return func(o *options) {
		o.environ = environ
	}
}

// New creates a new App instance. Building the store performs no writes; the
// file backend only resolves its location.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	store, err := newStore(ctx, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	return &App{
		cfg:   cfg,
		store: store,
	}, nil
}

// Store returns the configured token store.
func (a *App) Store() tokenstore.Store {
	return a.store
}

// CacheFilePath returns the location of the JSON cache file, whether or not the
// file backend is the active one.
func (a *App) CacheFilePath(ctx context.Context) (string, bool) {
	if files, ok := a.store.(*tokenstore.JSONFileStore); ok {
		return files.Path()
	}
	return newFileStore(ctx, a.cfg).Path()
}

// newStore creates the token store selected by the storage configuration.
func newStore(ctx context.Context, cfg *Config, o *options) (tokenstore.Store, error) {
	switch cfg.Storage.Backend {
	case StorageBackendFile:
		return newFileStore(ctx, cfg), nil
	case StorageBackendKeyring:
		return tokenstore.NewKeyringStore(cfg.Storage.KeyringService, nil)
	case StorageBackendEnv:
		var envOpts []tokenstore.EnvOption
		if o.environ != nil {
			envOpts = append(envOpts, tokenstore.WithLookupEnv(tokenstore.LookupEnviron(o.environ)))
		}
		return tokenstore.NewEnvStore(cfg.Storage.EnvPrefix, nil, envOpts...)
	case StorageBackendAuto:
		if err := tokenstore.KeyringAvailable(cfg.Storage.KeyringService); err != nil {
			slog.InfoContext(ctx, "secure storage unavailable, using the credential cache file", "error", err)
			return newFileStore(ctx, cfg), nil
		}
		slog.DebugContext(ctx, "using secure storage", "service", cfg.Storage.KeyringService)
		return tokenstore.NewKeyringStore(cfg.Storage.KeyringService, nil)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func newFileStore(ctx context.Context, cfg *Config) *tokenstore.JSONFileStore {
	return tokenstore.NewJSONFileStore(ctx, tokenstore.WithDir(cfg.Cache.Dir))
}
