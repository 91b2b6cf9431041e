package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "mcphub"

// GetLogDir returns the standard log directory for the current OS:
//
//	windows: %LOCALAPPDATA%\mcphub\logs
//	darwin:  ~/Library/Logs/mcphub
//	linux:   $XDG_STATE_HOME/mcphub/logs (default ~/.local/state)
func GetLogDir() (string, error) {
	return logDirFor(runtime.GOOS, os.Getenv)
}

func logDirFor(goos string, getenv func(string) string) (string, error) {
	home, homeErr := os.UserHomeDir()

	switch goos {
	case "windows":
		base := getenv("LOCALAPPDATA")
		if base == "" && getenv("USERPROFILE") != "" {
			base = filepath.Join(getenv("USERPROFILE"), "AppData", "Local")
		}
		if base != "" {
			return filepath.Join(base, appName, "logs"), nil
		}
	case "darwin":
		if homeErr == nil {
			return filepath.Join(home, "Library", "Logs", appName), nil
		}
	case "linux":
		state := getenv("XDG_STATE_HOME")
		if state == "" && homeErr == nil {
			state = filepath.Join(home, ".local", "state")
		}
		if state != "" {
			return filepath.Join(state, appName, "logs"), nil
		}
	}

	if homeErr != nil {
		return filepath.Join(os.TempDir(), appName, "logs"), nil
	}
	return filepath.Join(home, "."+appName, "logs"), nil
}

// EnsureLogDir creates the log directory if it doesn't exist
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0755)
}

// GetLogFilePathWithDir returns the full path for a log file, using the
// standard directory when logDir is empty. A leading ~/ is expanded.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
