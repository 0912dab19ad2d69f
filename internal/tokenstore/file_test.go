package tokenstore_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/credcache/internal/tokenstore"
)

const homeDir = "/home/u"

var cacheFile = filepath.Join(homeDir, tokenstore.FileName)

// newTestStore creates a store backed by an in-memory filesystem with an existing
// home directory. Log output is captured at debug level.
func newTestStore(t *testing.T, opts ...tokenstore.JSONFileOption) (*tokenstore.JSONFileStore, afero.Fs, *bytes.Buffer) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(homeDir, 0700))

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	base := []tokenstore.JSONFileOption{
		tokenstore.WithFs(fs),
		tokenstore.WithHomeDir(func() (string, error) { return homeDir, nil }),
		tokenstore.WithLogger(logger),
	}
	store := tokenstore.NewJSONFileStore(context.Background(), append(base, opts...)...)
	return store, fs, logs
}

func readCacheFile(t *testing.T, fs afero.Fs) string {
	t.Helper()
	data, err := afero.ReadFile(fs, cacheFile)
	require.NoError(t, err)
	return string(data)
}

func TestNewJSONFileStore_Location(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, fs afero.Fs)
		dir       string
		homeDir   func() (string, error)
		wantPath  string
		wantFound bool
		wantLog   string
	}{
		{
			name:      "no override uses home",
			wantPath:  "/home/u/temporary_credential.json",
			wantFound: true,
			wantLog:   "credential cache file",
		},
		{
			name: "existing override wins over home",
			setup: func(t *testing.T, fs afero.Fs) {
				require.NoError(t, fs.MkdirAll("/var/cache/creds", 0700))
			},
			dir:       "/var/cache/creds",
			wantPath:  "/var/cache/creds/temporary_credential.json",
			wantFound: true,
			wantLog:   "configured by the user",
		},
		{
			name:      "missing override falls back to home",
			dir:       "/does/not/exist",
			wantPath:  "/home/u/temporary_credential.json",
			wantFound: true,
			wantLog:   "falling back to home",
		},
		{
			name: "override pointing at a file falls back to home",
			setup: func(t *testing.T, fs afero.Fs) {
				require.NoError(t, afero.WriteFile(fs, "/tmp/not-a-dir", []byte("x"), 0600))
			},
			dir:       "/tmp/not-a-dir",
			wantPath:  "/home/u/temporary_credential.json",
			wantFound: true,
		},
		{
			name:    "home lookup fails",
			homeDir: func() (string, error) { return "", errors.New("$HOME is not defined") },
			wantLog: "default location (home) cannot be used",
		},
		{
			name:    "missing override and missing home",
			dir:     "/does/not/exist",
			homeDir: func() (string, error) { return "/home/nobody", nil },
			wantLog: "default location (home) cannot be used",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll(homeDir, 0700))
			if tt.setup != nil {
				tt.setup(t, fs)
			}
			home := tt.homeDir
			if home == nil {
				home = func() (string, error) { return homeDir, nil }
			}
			logs := &bytes.Buffer{}

			store := tokenstore.NewJSONFileStore(context.Background(),
				tokenstore.WithFs(fs),
				tokenstore.WithDir(tt.dir),
				tokenstore.WithHomeDir(home),
				tokenstore.WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
			)

			path, found := store.Path()
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, filepath.FromSlash(tt.wantPath), filepath.FromSlash(path))
			if tt.wantLog != "" {
				assert.Contains(t, logs.String(), tt.wantLog)
			}
			if tt.wantFound {
				assert.NotContains(t, logs.String(), "level=ERROR")
			}
		})
	}
}

func TestJSONFileStore_WriteCreatesOwnerOnlyFile(t *testing.T) {
	store, fs, _ := newTestStore(t)

	exists, err := afero.Exists(fs, cacheFile)
	require.NoError(t, err)
	require.False(t, exists, "construction must not create the file")

	res := store.Write(context.Background(), "host:user:TOKEN", "abc123")
	require.Equal(t, tokenstore.StatusOK, res.Status)

	assert.JSONEq(t, `{"host:user:TOKEN":"abc123"}`, readCacheFile(t, fs))

	info, err := fs.Stat(cacheFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestJSONFileStore_OnDiskPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()
	store := tokenstore.NewJSONFileStore(context.Background(), tokenstore.WithDir(dir))

	path, found := store.Path()
	require.True(t, found)
	require.Equal(t, filepath.Join(dir, tokenstore.FileName), path)

	require.True(t, store.Write(context.Background(), "k", "v").OK())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Loosened permissions are restored by the next write
	require.NoError(t, os.Chmod(path, 0644))
	require.True(t, store.Write(context.Background(), "k", "w").OK())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	res := store.Read(context.Background(), "k")
	assert.Equal(t, tokenstore.Result{Status: tokenstore.StatusOK, Value: "w"}, res)
}

func TestJSONFileStore_WriteThenRead(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "plain", key: "host:user:TOKEN", value: "abc123"},
		{name: "jwt-like", key: "ACCOUNT.SNOWFLAKECOMPUTING.COM:ALICE:ID_TOKEN", value: "eyJhbGciOi.eyJzdWIi.c2lnbmF0dXJl"},
		{name: "quotes and unicode", key: "k\"ey", value: "tök\"en\n<&>"},
		{name: "empty value", key: "k", value: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _, _ := newTestStore(t)
			ctx := context.Background()

			require.Equal(t, tokenstore.StatusOK, store.Write(ctx, tt.key, tt.value).Status)

			res := store.Read(ctx, tt.key)
			assert.True(t, res.OK())
			assert.Equal(t, tt.value, res.Value)
		})
	}
}

func TestJSONFileStore_Unresolved(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := tokenstore.NewJSONFileStore(context.Background(),
		tokenstore.WithFs(fs),
		tokenstore.WithHomeDir(func() (string, error) { return "/missing", nil }),
		tokenstore.WithLogger(slog.New(slog.DiscardHandler)),
	)
	ctx := context.Background()

	_, found := store.Path()
	require.False(t, found)

	for _, key := range []string{"k", "host:user:TOKEN", ""} {
		assert.Equal(t, tokenstore.StatusAbsent, store.Write(ctx, key, "v").Status)
		assert.Equal(t, tokenstore.StatusAbsent, store.Read(ctx, key).Status)
		assert.Equal(t, tokenstore.StatusAbsent, store.Remove(ctx, key).Status)
	}

	entries, err := afero.ReadDir(fs, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJSONFileStore_EmptyKey(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, tokenstore.StatusAbsent, store.Write(ctx, "", "v").Status)
	assert.Equal(t, tokenstore.StatusAbsent, store.Read(ctx, "").Status)
	assert.Equal(t, tokenstore.StatusAbsent, store.Remove(ctx, "").Status)

	exists, err := afero.Exists(fs, cacheFile)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJSONFileStore_ReadMissingFile(t *testing.T) {
	store, _, logs := newTestStore(t)

	res := store.Read(context.Background(), "k")
	assert.Equal(t, tokenstore.StatusAbsent, res.Status)
	assert.Contains(t, logs.String(), "cannot find the credential cache file")
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestJSONFileStore_WriteRemoveRead(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx := context.Background()

	require.True(t, store.Write(ctx, "k", "v").OK())
	require.Equal(t, tokenstore.StatusOK, store.Remove(ctx, "k").Status)

	assert.Equal(t, tokenstore.StatusAbsent, store.Read(ctx, "k").Status)

	// Known quirk: removal keeps the key with a null value instead of deleting it
	assert.JSONEq(t, `{"k":null}`, readCacheFile(t, fs))

	// Removing again is a no-op
	assert.Equal(t, tokenstore.StatusAbsent, store.Remove(ctx, "k").Status)
}

func TestJSONFileStore_RemoveLeavesOtherEntries(t *testing.T) {
	store, fs, logs := newTestStore(t)
	ctx := context.Background()

	require.True(t, store.Write(ctx, "a", "1").OK())
	require.True(t, store.Write(ctx, "b", "2").OK())
	before := readCacheFile(t, fs)

	assert.Equal(t, tokenstore.StatusAbsent, store.Remove(ctx, "missing").Status)
	assert.Equal(t, before, readCacheFile(t, fs))

	require.Equal(t, tokenstore.StatusOK, store.Remove(ctx, "a").Status)
	assert.JSONEq(t, `{"a":null,"b":"2"}`, readCacheFile(t, fs))
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestJSONFileStore_RemoveMissingFile(t *testing.T) {
	store, fs, logs := newTestStore(t)

	assert.Equal(t, tokenstore.StatusAbsent, store.Remove(context.Background(), "k").Status)
	assert.Contains(t, logs.String(), "cannot find the credential cache file")

	exists, err := afero.Exists(fs, cacheFile)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJSONFileStore_KeysAreIndependent(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	require.True(t, store.Write(ctx, "b", "token-b").OK())
	require.True(t, store.Write(ctx, "a", "token-a").OK())
	require.True(t, store.Write(ctx, "a", "token-a2").OK())

	assert.Equal(t, "token-b", store.Read(ctx, "b").Value)
	assert.Equal(t, "token-a2", store.Read(ctx, "a").Value)
}

func TestJSONFileStore_WriteIsIdempotent(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx := context.Background()

	require.True(t, store.Write(ctx, "other", "x").OK())
	require.True(t, store.Write(ctx, "k", "v").OK())
	once := readCacheFile(t, fs)

	require.True(t, store.Write(ctx, "k", "v").OK())
	assert.Equal(t, once, readCacheFile(t, fs))
}

func TestJSONFileStore_InvalidJSON(t *testing.T) {
	store, fs, logs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, cacheFile, []byte("{not json"), 0600))

	res := store.Read(ctx, "k")
	assert.Equal(t, tokenstore.StatusFailed, res.Status)
	assert.Error(t, res.Err)
	// Same as absent for callers: no value
	assert.False(t, res.OK())
	assert.Empty(t, res.Value)
	assert.Contains(t, logs.String(), "level=ERROR")

	logs.Reset()
	assert.Equal(t, tokenstore.StatusFailed, store.Remove(ctx, "k").Status)
	assert.Contains(t, logs.String(), "failed to delete credential")
	assert.Equal(t, "{not json", readCacheFile(t, fs))

	// Write starts over from an empty mapping
	require.Equal(t, tokenstore.StatusOK, store.Write(ctx, "k", "v").Status)
	assert.JSONEq(t, `{"k":"v"}`, readCacheFile(t, fs))
}

func TestJSONFileStore_NullDocument(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, cacheFile, []byte("null"), 0600))

	assert.Equal(t, tokenstore.StatusAbsent, store.Read(ctx, "k").Status)
	require.Equal(t, tokenstore.StatusOK, store.Write(ctx, "k", "v").Status)
	assert.JSONEq(t, `{"k":"v"}`, readCacheFile(t, fs))
}

func TestJSONFileStore_PreservesForeignValues(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, cacheFile, []byte(`{"n": 5, "obj": {"a": [1, 2]}, "gone": null}`), 0600))

	require.Equal(t, tokenstore.StatusOK, store.Write(ctx, "k", "v").Status)
	assert.JSONEq(t, `{"n":5,"obj":{"a":[1,2]},"gone":null,"k":"v"}`, readCacheFile(t, fs))

	res := store.Read(ctx, "n")
	assert.Equal(t, tokenstore.StatusFailed, res.Status)
	assert.Equal(t, tokenstore.StatusAbsent, store.Read(ctx, "gone").Status)
}

func TestJSONFileStore_NoTempFilesLeft(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.True(t, store.Write(ctx, key, "v").OK())
	}
	require.Equal(t, tokenstore.StatusOK, store.Remove(ctx, "b").Status)

	entries, err := afero.ReadDir(fs, homeDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tokenstore.FileName, entries[0].Name())
}

func TestJSONFileStore_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	store, fs, logs := newTestStore(t)
	require.NoError(t, afero.WriteFile(fs, cacheFile, []byte(`{"k":"v"}`), 0644))

	res := store.Read(context.Background(), "k")
	assert.Equal(t, "v", res.Value)
	assert.Contains(t, logs.String(), "insecure permissions")
}

func TestJSONFileStore_CancelledContext(t *testing.T) {
	store, fs, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, res := range []tokenstore.Result{
		store.Write(ctx, "k", "v"),
		store.Read(ctx, "k"),
		store.Remove(ctx, "k"),
	} {
		assert.Equal(t, tokenstore.StatusFailed, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}

	exists, err := afero.Exists(fs, cacheFile)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJSONFileStore_ReadOnlyFilesystem(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(homeDir, 0700))
	require.NoError(t, afero.WriteFile(fs, cacheFile, []byte(`{"k":"v"}`), 0600))
	logs := &bytes.Buffer{}

	store := tokenstore.NewJSONFileStore(context.Background(),
		tokenstore.WithFs(afero.NewReadOnlyFs(fs)),
		tokenstore.WithHomeDir(func() (string, error) { return homeDir, nil }),
		tokenstore.WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
	)
	ctx := context.Background()

	assert.Equal(t, "v", store.Read(ctx, "k").Value)

	res := store.Write(ctx, "k", "w")
	assert.Equal(t, tokenstore.StatusFailed, res.Status)
	assert.Contains(t, logs.String(), "failed to write credential")

	assert.Equal(t, tokenstore.StatusFailed, store.Remove(ctx, "k").Status)
	assert.Equal(t, "v", store.Read(ctx, "k").Value)
}
