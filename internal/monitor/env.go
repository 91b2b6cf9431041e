package monitor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// A hub launched from a desktop session or a service manager often inherits a
// PATH without node, npx or the user's global npm bin. The hub spawns its
// downstream servers with that PATH, so we extend it before starting it.

// ToolDirs returns the existing directories where node, global npm packages
// and user binaries are usually installed. Tests replace it.
var ToolDirs = func() []string {
	return existingDirs(candidateToolDirs())
}

// EnhancePath appends the dirs missing from path. Entries already in path keep
// their position so a user's own ordering still wins.
func EnhancePath(path string, dirs []string) string {
	sep := string(os.PathListSeparator)
	seen := make(map[string]bool)
	var parts []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		key := filepath.Clean(p)
		if seen[key] {
			return
		}
		seen[key] = true
		parts = append(parts, p)
	}
	for _, p := range strings.Split(path, sep) {
		add(p)
	}
	for _, d := range dirs {
		add(d)
	}
	return strings.Join(parts, sep)
}

// HubEnvironment returns base with its PATH extended by ToolDirs. The rest of
// the environment passes through untouched since downstream servers read
// their API keys from it.
func HubEnvironment(base []string) []string {
	env := make([]string, 0, len(base)+1)
	found := false
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if ok && isPathKey(key) {
			if found {
				continue
			}
			found = true
			env = append(env, key+"="+EnhancePath(value, ToolDirs()))
			continue
		}
		env = append(env, kv)
	}
	if !found {
		env = append(env, "PATH="+EnhancePath("", ToolDirs()))
	}
	return env
}

// ResolveBinary finds binary on PATH, then in ToolDirs.
func ResolveBinary(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err == nil {
		return path, nil
	}
	if strings.ContainsRune(binary, filepath.Separator) || strings.ContainsRune(binary, '/') {
		return "", err
	}
	if found, ok := lookIn(ToolDirs(), binary); ok {
		return found, nil
	}
	return "", err
}

// lookIn returns the first executable named binary in dirs
func lookIn(dirs []string, binary string) (string, bool) {
	for _, dir := range dirs {
		for _, name := range executableNames(binary) {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			if isExecutable(info) {
				return candidate, true
			}
		}
	}
	return "", false
}

func existingDirs(candidates []string) []string {
	var dirs []string
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
