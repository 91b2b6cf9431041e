//go:build !windows

package monitor

import (
	"os"
	"path/filepath"
)

func candidateToolDirs() []string {
	dirs := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/usr/bin",
		"/bin",
		"/usr/sbin",
		"/sbin",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, ".volta", "bin"),
			filepath.Join(home, ".bun", "bin"),
			filepath.Join(home, ".local", "share", "pnpm"),
		)
	}
	if prefix := os.Getenv("NPM_CONFIG_PREFIX"); prefix != "" {
		dirs = append(dirs, filepath.Join(prefix, "bin"))
	}
	return dirs
}

func isPathKey(key string) bool { return key == "PATH" }

func executableNames(binary string) []string { return []string{binary} }

func isExecutable(info os.FileInfo) bool { return info.Mode()&0o111 != 0 }
