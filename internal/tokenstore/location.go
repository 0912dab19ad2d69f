package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileName is the name of the cache file inside the resolved directory.
const FileName = "temporary_credential.json"

// ErrDirectoryUnresolved is returned when neither the override directory nor the
// home directory can hold the cache file.
var ErrDirectoryUnresolved = errors.New("no usable credential cache directory")

// Location describes where the cache file lives.
type Location struct {
	Dir string
	// FromOverride is true when Dir came from the configured override.
	FromOverride bool
}

// File returns the cache file path inside the directory.
func (l Location) File() string {
	return filepath.Join(l.Dir, FileName)
}

// ResolveDir picks the cache directory: the override if it is an existing directory,
// otherwise the user's home directory. The override is ignored when empty.
func ResolveDir(fs afero.Fs, override string, homeDir func() (string, error)) (Location, error) {
	if override != "" {
		if isDir(fs, override) {
			return Location{Dir: override, FromOverride: true}, nil
		}
	}

	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	home, err := homeDir()
	if err != nil {
		return Location{}, fmt.Errorf("%w: home directory lookup: %w", ErrDirectoryUnresolved, err)
	}
	if home == "" || !isDir(fs, home) {
		return Location{}, fmt.Errorf("%w: home directory %q is not a directory", ErrDirectoryUnresolved, home)
	}

	return Location{Dir: home}, nil
}

func isDir(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
