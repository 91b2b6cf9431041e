//go:build windows

package monitor

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// Services and installers do not inherit the user's PATH; the registry holds
// the configured one.
func candidateToolDirs() []string {
	dirs := registryPath()
	if appData := os.Getenv("APPDATA"); appData != "" {
		dirs = append(dirs, filepath.Join(appData, "npm"))
	}
	if pf := os.Getenv("ProgramFiles"); pf != "" {
		dirs = append(dirs, filepath.Join(pf, "nodejs"))
	}
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		dirs = append(dirs, filepath.Join(local, "Volta", "bin"), filepath.Join(local, "pnpm"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".bun", "bin"))
	}
	return dirs
}

// registryPath reads the user PATH followed by the system PATH
func registryPath() []string {
	var dirs []string
	read := func(root registry.Key, path string) {
		k, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
		if err != nil {
			return
		}
		defer k.Close()
		value, _, err := k.GetStringValue("Path")
		if err != nil {
			return
		}
		// stored as REG_EXPAND_SZ
		expanded, err := registry.ExpandString(value)
		if err != nil {
			expanded = value
		}
		for _, d := range strings.Split(expanded, string(os.PathListSeparator)) {
			if d = strings.TrimSpace(d); d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	read(registry.CURRENT_USER, `Environment`)
	read(registry.LOCAL_MACHINE, `SYSTEM\CurrentControlSet\Control\Session Manager\Environment`)
	return dirs
}

func isPathKey(key string) bool { return strings.EqualFold(key, "PATH") }

func executableNames(binary string) []string {
	if filepath.Ext(binary) != "" {
		return []string{binary}
	}
	exts := os.Getenv("PATHEXT")
	if exts == "" {
		exts = ".COM;.EXE;.BAT;.CMD"
	}
	var names []string
	for _, ext := range strings.Split(exts, ";") {
		if ext = strings.TrimSpace(ext); ext != "" {
			names = append(names, binary+strings.ToLower(ext))
		}
	}
	return names
}

func isExecutable(os.FileInfo) bool { return true }
