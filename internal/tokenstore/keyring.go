package tokenstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// probeKey is looked up by KeyringAvailable. It is never written.
const probeKey = "credcache-probe"

// KeyringStore provides OS-native secure credential storage for tokens.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Each key is stored as a separate keyring entry under the same service.
type KeyringStore struct {
	service string
	logger  *slog.Logger
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service identifier.
// A nil logger means slog.Default().
func NewKeyringStore(service string, logger *slog.Logger) (*KeyringStore, error) {
	if service == "" {
		return nil, errors.New("service cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &KeyringStore{
		service: service,
		logger:  logger,
	}, nil
}

// KeyringAvailable reports whether the OS credential storage can be reached.
func KeyringAvailable(service string) error {
	_, err := keyring.Get(service, probeKey)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Read returns the token from the system keyring.
func (k *KeyringStore) Read(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" {
		return absent()
	}

	token, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return absent()
	}
	if err != nil {
		k.logger.ErrorContext(ctx, "failed to read credential from keyring", "service", k.service, "key", key, "error", err)
		return failed(err)
	}

	return ok(token)
}

// Write persists the token to the system keyring, overwriting any existing value.
func (k *KeyringStore) Write(ctx context.Context, key, value string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" {
		return absent()
	}

	if err := keyring.Set(k.service, key, value); err != nil {
		k.logger.ErrorContext(ctx, "failed to write credential to keyring", "service", k.service, "key", key, "error", err)
		return failed(err)
	}

	return done()
}

// Remove deletes the keyring entry. A missing entry is StatusAbsent.
func (k *KeyringStore) Remove(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" {
		return absent()
	}

	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return absent()
	}
	if err != nil {
		k.logger.ErrorContext(ctx, "failed to delete credential from keyring", "service", k.service, "key", key, "error", err)
		return failed(err)
	}

	return done()
}
