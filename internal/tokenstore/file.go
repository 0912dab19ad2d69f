package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// JSONFileStore keeps all tokens of the current user in a single JSON object on disk.
// Writes replace the whole file via temp file + rename and leave it with 0600 permissions.
//
// A store whose directory could not be resolved is inert: every operation is a no-op
// returning StatusAbsent.
type JSONFileStore struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// Compile-time check to ensure JSONFileStore implements Store
var _ Store = (*JSONFileStore)(nil)

// JSONFileOption configures a JSONFileStore.
type JSONFileOption func(*jsonFileConfig)

type jsonFileConfig struct {
	fs      afero.Fs
	dir     string
	homeDir func() (string, error)
	logger  *slog.Logger
}

// WithDir sets the directory that takes precedence over the home directory.
// It is only used if it exists and is a directory.
func WithDir(dir string) JSONFileOption {
	return func(c *jsonFileConfig) {
		c.dir = dir
	}
}

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) JSONFileOption {
	return func(c *jsonFileConfig) {
		c.fs = fs
	}
}

// WithHomeDir replaces the home directory lookup. Defaults to os.UserHomeDir.
func WithHomeDir(homeDir func() (string, error)) JSONFileOption {
	return func(c *jsonFileConfig) {
		c.homeDir = homeDir
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) JSONFileOption {
	return func(c *jsonFileConfig) {
		c.logger = logger
	}
}

// NewJSONFileStore resolves the cache file location. No file is created until the first Write.
func NewJSONFileStore(ctx context.Context, opts ...JSONFileOption) *JSONFileStore {
	cfg := &jsonFileConfig{
		fs:      afero.NewOsFs(),
		homeDir: os.UserHomeDir,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := &JSONFileStore{
		fs:     cfg.fs,
		logger: cfg.logger,
	}

	loc, err := ResolveDir(cfg.fs, cfg.dir, cfg.homeDir)
	if err != nil {
		cfg.logger.ErrorContext(ctx, "credential cache directory is invalid and the default location (home) cannot be used either, set cache.dir to enable the file cache",
			"dir", cfg.dir, "error", err)
		return store
	}

	if loc.FromOverride {
		cfg.logger.DebugContext(ctx, "credential cache directory is configured by the user", "dir", loc.Dir)
	} else if cfg.dir != "" {
		cfg.logger.DebugContext(ctx, "configured credential cache directory is not usable, falling back to home", "dir", cfg.dir)
	}

	store.path = loc.File()
	cfg.logger.InfoContext(ctx, "credential cache file", "path", store.path)

	return store
}

// Path returns the cache file path and whether the store is usable.
func (f *JSONFileStore) Path() (string, bool) {
	return f.path, f.path != ""
}

// Read returns the token stored under key. A missing key, a null value and a
// missing file all read as StatusAbsent.
func (f *JSONFileStore) Read(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" || f.path == "" {
		return absent()
	}

	f.checkPermissions(ctx)

	entries, err := f.load()
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.InfoContext(ctx, "cannot find the credential cache file", "path", f.path)
		return absent()
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to read credential", "path", f.path, "key", key, "error", err)
		return failed(err)
	}

	raw, found := entries[key]
	if !found || isNull(raw) {
		return absent()
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		err = fmt.Errorf("value of %q is not a string: %w", key, err)
		f.logger.ErrorContext(ctx, "failed to read credential", "path", f.path, "key", key, "error", err)
		return failed(err)
	}

	return ok(token)
}

// Write stores value under key and rewrites the whole file. An unreadable or
// unparseable file is replaced by a fresh one.
func (f *JSONFileStore) Write(ctx context.Context, key, value string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" || f.path == "" {
		return absent()
	}

	entries, err := f.load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		entries = map[string]json.RawMessage{}
	case err != nil:
		f.logger.ErrorContext(ctx, "discarding unreadable credential cache", "path", f.path, "error", err)
		entries = map[string]json.RawMessage{}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return failed(err)
	}
	entries[key] = raw

	if err := f.save(entries); err != nil {
		f.logger.ErrorContext(ctx, "failed to write credential", "path", f.path, "key", key, "error", err)
		return failed(err)
	}

	return done()
}

// Remove replaces the value stored under key with null. The key itself stays in the
// file. Nothing is rewritten when the key is missing or already null.
func (f *JSONFileStore) Remove(ctx context.Context, key string) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if key == "" || f.path == "" {
		return absent()
	}

	entries, err := f.load()
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.InfoContext(ctx, "cannot find the credential cache file", "path", f.path)
		return absent()
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to delete credential", "path", f.path, "key", key, "error", err)
		return failed(err)
	}

	raw, found := entries[key]
	if !found || isNull(raw) {
		return absent()
	}
	entries[key] = json.RawMessage("null")

	if err := f.save(entries); err != nil {
		f.logger.ErrorContext(ctx, "failed to delete credential", "path", f.path, "key", key, "error", err)
		return failed(err)
	}

	return done()
}

// load reads and parses the cache file. The returned error wraps fs.ErrNotExist
// when the file is missing.
func (f *JSONFileStore) load() (map[string]json.RawMessage, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, err
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	// A literal null document
	if entries == nil {
		entries = map[string]json.RawMessage{}
	}

	return entries, nil
}

// save atomically replaces the cache file using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *JSONFileStore) save(entries map[string]json.RawMessage) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding credential cache: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem
	dir := filepath.Dir(f.path)
	tempName := filepath.Join(dir, "."+FileName+"."+uuid.NewString()+".tmp")
	tempFile, err := f.fs.OpenFile(tempName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	// Cleanup deferred for all exit paths
	defer func() { _ = f.fs.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := f.fs.Rename(tempName, f.path); err != nil {
		return err
	}

	return f.fs.Chmod(f.path, 0600)
}

// checkPermissions warns when the cache file is readable by anyone but its owner.
func (f *JSONFileStore) checkPermissions(ctx context.Context) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := f.fs.Stat(f.path)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		f.logger.WarnContext(ctx, "insecure permissions on credential cache file",
			"path", f.path, "mode", fmt.Sprintf("%04o", perm))
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
