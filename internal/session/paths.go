package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.gomess.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gomess")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session. One running client per
// session; a second instance would race the outbox and the snapshot db.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local state db (conversation snapshot + outbox).
func DBPath(name string) string {
	return filepath.Join(Dir(name), "gomess.db")
}

// TokenPath returns where the access token is persisted between runs.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "gomessd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree.
func EnsureDir(name string) error {
	return os.MkdirAll(LogDir(name), 0700)
}
