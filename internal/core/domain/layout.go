package domain

import (
	"os"
	"path/filepath"
	"strconv"
)

const (
	// AppName is the name used for runtime directories and the default config file.
	AppName = "xnail"

	// SocketFileName is the name of the daemon socket inside the runtime directory.
	SocketFileName = "xnail.sock"

	// PIDFileSuffix is appended to a local socket path to form the PID file path.
	PIDFileSuffix = ".pid"

	// LogFileSuffix is appended to a local socket path to form the daemon log path.
	LogFileSuffix = ".log"

	// ConfigFileName is the name of the configuration file inside the config directory.
	ConfigFileName = "config.yaml"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// SocketPerm is the permission for the daemon socket (rw-------).
	SocketPerm = 0o600

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// DefaultRuntimeDir returns the directory holding the daemon socket, PID and log files.
// It prefers $XDG_RUNTIME_DIR/xnail and falls back to a per-user directory under the
// system temporary directory.
func DefaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName+"-"+strconv.Itoa(os.Getuid()))
}

// DefaultDaemonSocketPath returns the default path of the daemon socket.
func DefaultDaemonSocketPath() string {
	return filepath.Join(DefaultRuntimeDir(), SocketFileName)
}

// DaemonPIDPath returns the PID file path that belongs to a local socket path.
func DaemonPIDPath(socketPath string) string {
	return socketPath + PIDFileSuffix
}

// DaemonLogPath returns the log file path that belongs to a local socket path.
func DaemonLogPath(socketPath string) string {
	return socketPath + LogFileSuffix
}

// DefaultConfigPath returns the default configuration file path.
// An empty string is returned when no user configuration directory can be determined.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, ConfigFileName)
}
