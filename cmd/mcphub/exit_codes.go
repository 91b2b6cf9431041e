package main

import (
	"errors"
	"fmt"
	"strings"

	"mcphub-go/internal/mcperr"
)

// Exit codes let scripts tell setup problems from hub and tool failures

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeSetupError indicates invalid settings, a missing hub binary or a version mismatch
	ExitCodeSetupError = 2

	// ExitCodeHubError indicates the hub could not be reached, started or queried
	ExitCodeHubError = 3

	// ExitCodeInvalidInput indicates unknown capabilities or rejected parameters
	ExitCodeInvalidInput = 4

	// ExitCodeToolError indicates the tool ran and reported a failure
	ExitCodeToolError = 5

	// ExitCodeMarketplaceError indicates the catalog could not be loaded and nothing was cached
	ExitCodeMarketplaceError = 6
)

// errSilent marks failures that were already printed
var errSilent = errors.New("failure already reported")

// exitError carries an explicit exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCodeFor maps an error to the process exit code
func exitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	e, ok := mcperr.As(err)
	if !ok {
		return ExitCodeGeneralError
	}
	switch e.Category {
	case mcperr.CategorySetup:
		return ExitCodeSetupError
	case mcperr.CategoryServer:
		return ExitCodeHubError
	case mcperr.CategoryMarketplace:
		return ExitCodeMarketplaceError
	case mcperr.CategoryRuntime:
		if e.Code == mcperr.CodeToolError {
			return ExitCodeToolError
		}
		return ExitCodeInvalidInput
	}
	return ExitCodeGeneralError
}

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeSetupError:
		return "Setup error"
	case ExitCodeHubError:
		return "Hub error"
	case ExitCodeInvalidInput:
		return "Invalid capability or parameters"
	case ExitCodeToolError:
		return "Tool reported a failure"
	case ExitCodeMarketplaceError:
		return "Marketplace unavailable"
	default:
		return "Unknown error"
	}
}

// exitCodesHelp lists every exit code for the root command's help
func exitCodesHelp() string {
	var b strings.Builder
	b.WriteString("Exit codes:\n")
	for code := ExitCodeSuccess; code <= ExitCodeMarketplaceError; code++ {
		fmt.Fprintf(&b, "  %d  %s\n", code, exitCodeDescription(code))
	}
	return b.String()
}
