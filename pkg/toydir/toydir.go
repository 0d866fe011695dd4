// Package toydir resolves paths within the .toybridge/ project directory.
package toydir

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultName is the directory name looked up from the working directory.
const DefaultName = ".toybridge"

const gitignoreContent = "local/\n.env\n"

// Dir is a value object that resolves paths within a .toybridge/ directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at the given path, made absolute. No I/O is
// performed.
func New(root string) Dir {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	return Dir{root: abs}
}

// Root returns the absolute path to the directory.
func (d Dir) Root() string { return d.root }

// ConfigPath returns the path to the bridge config file.
func (d Dir) ConfigPath() string { return filepath.Join(d.root, "config.yaml") }

// EnvPath returns the path to the optional .env file.
func (d Dir) EnvPath() string { return filepath.Join(d.root, ".env") }

// LocalDir returns the path to the gitignored runtime state directory.
func (d Dir) LocalDir() string { return filepath.Join(d.root, "local") }

// LogPath returns the default log file used while the monitor owns the
// terminal.
func (d Dir) LogPath() string { return filepath.Join(d.root, "local", "toybridge.log") }

// GitignorePath returns the path to the .gitignore file.
func (d Dir) GitignorePath() string { return filepath.Join(d.root, ".gitignore") }

// Exists reports whether the root directory exists on disk.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.root)

	return err == nil && info.IsDir()
}

// HasConfig reports whether config.yaml exists.
func (d Dir) HasConfig() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// EnsureStructure creates the root, local/ and .gitignore when missing. It
// is idempotent and never overwrites an existing .gitignore.
func EnsureStructure(d Dir) error {
	if err := os.MkdirAll(d.LocalDir(), 0o750); err != nil {
		return fmt.Errorf("toydir: create local dir: %w", err)
	}

	path := d.GitignorePath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(gitignoreContent), 0o600); err != nil {
		return fmt.Errorf("toydir: gitignore: %w", err)
	}

	return nil
}
