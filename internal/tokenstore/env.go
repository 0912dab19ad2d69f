package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrReadOnly is the cause of failed writes to a read-only store.
var ErrReadOnly = errors.New("environment variable storage is read-only")

// EnvStore provides read-only access to tokens stored in environment variables.
// The variable for a key is the prefix followed by the upper-cased key with every
// character other than A-Z and 0-9 replaced by an underscore.
type EnvStore struct {
	prefix    string
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// EnvOption configures an EnvStore.
type EnvOption func(*EnvStore)

// WithLookupEnv replaces the variable lookup. Defaults to os.LookupEnv.
func WithLookupEnv(lookupEnv func(string) (string, bool)) EnvOption {
	return func(e *EnvStore) {
		e.lookupEnv = lookupEnv
	}
}

// NewEnvStore creates an EnvStore for the given variable prefix.
// A nil logger means slog.Default().
func NewEnvStore(prefix string, logger *slog.Logger, opts ...EnvOption) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := &EnvStore{
		prefix:    prefix,
		lookupEnv: os.LookupEnv,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// LookupEnviron returns a lookup over KEY=VALUE pairs. Later entries win, matching
// how the configuration loader reads the same list.
func LookupEnviron(environ func() []string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, found := "", false
		for _, kv := range environ() {
			k, v, ok := strings.Cut(kv, "=")
			if ok && k == name {
				value, found = v, true
			}
		}
		return value, found
	}
}

// VarName returns the environment variable consulted for key.
func (e *EnvStore) VarName(key string) string {
	var sb strings.Builder
	sb.WriteString(e.prefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// Read returns the token from the environment. Unset and empty variables are StatusAbsent.
func (e *EnvStore) Read(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" {
		return absent()
	}

	token, _ := e.lookupEnv(e.VarName(key))
	if token == "" {
		return absent()
	}
	return ok(token)
}

// Write is not supported for environment variables (they are read-only).
func (e *EnvStore) Write(ctx context.Context, key, _ string) Result {
	return e.readOnly(ctx, key)
}

// Remove is not supported for environment variables (they are read-only).
func (e *EnvStore) Remove(ctx context.Context, key string) Result {
	return e.readOnly(ctx, key)
}

func (e *EnvStore) readOnly(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" {
		return absent()
	}

	e.logger.ErrorContext(ctx, "cannot modify credential", "variable", e.VarName(key), "error", ErrReadOnly)
	return failed(ErrReadOnly)
}
