package monitor

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"mcphub-go/internal/mcperr"
)

const versionTimeout = 5 * time.Second

var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(?:\.(\d+))?`)

// LookPath resolves the hub binary. Tests replace it.
var LookPath = ResolveBinary

// ParseVersion extracts the first dotted version from command output and
// returns it in canonical semver form ("v4.1.0").
func ParseVersion(output string) (string, bool) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := "v" + m[1] + "." + m[2] + "." + patch
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

// Satisfies reports whether version matches the major.minor floor: the same
// major version, at or above the floor's minor.
func Satisfies(version, required string) bool {
	floor, ok := ParseVersion(required)
	if !ok {
		return false
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return false
	}
	if semver.Major(version) != semver.Major(floor) {
		return false
	}
	return semver.Compare(version, floor) >= 0
}

// CheckVersion runs `<binary> --version` and checks it against required.
// A binary that cannot be found is SETUP.MISSING_DEPENDENCY; anything that
// prevents confirming the version is SETUP.VERSION_MISMATCH.
func CheckVersion(ctx context.Context, binary, required string) (string, error) {
	path, err := LookPath(binary)
	if err != nil {
		return "", mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeMissingDependency,
			"hub binary "+binary+" not found in PATH", err, map[string]any{"command": binary})
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		details := map[string]any{"command": path, "required": required}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			details["stderr"] = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeVersionMismatch,
			"failed to read hub version", err, details)
	}

	output := strings.TrimSpace(string(out))
	version, ok := ParseVersion(output)
	if !ok {
		return "", mcperr.Setup(mcperr.CodeVersionMismatch, "unrecognised hub version output",
			map[string]any{"command": path, "output": output, "required": required})
	}
	if !Satisfies(version, required) {
		return version, mcperr.Setup(mcperr.CodeVersionMismatch,
			"hub version "+version+" does not match required "+required,
			map[string]any{"installed": version, "required": required})
	}
	return version, nil
}
