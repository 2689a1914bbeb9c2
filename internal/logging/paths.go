package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.kbcontext/logs, or a temp-dir equivalent when the
// home directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbcontext", "logs")
	}
	return filepath.Join(home, ".kbcontext", "logs")
}

// DefaultLogPath returns the log file used by --debug and serve.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "kbcontext.log")
}
