package output

import (
	"errors"

	"mcphub-go/internal/mcperr"
)

// StructuredError is the machine-readable form of a failed command
type StructuredError struct {
	Category string         `json:"category,omitempty" yaml:"category,omitempty"`
	Code     string         `json:"code" yaml:"code"`
	Message  string         `json:"message" yaml:"message"`
	Hint     string         `json:"hint,omitempty" yaml:"hint,omitempty"`
	Details  map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

// CodeUsage marks errors that did not come from the client itself
const CodeUsage = "USAGE"

var hints = map[mcperr.Code]string{
	mcperr.CodeMissingDependency: "Install mcp-hub or point --hub-command at the binary",
	mcperr.CodeVersionMismatch:   "Upgrade mcp-hub to the required version",
	mcperr.CodeInvalidPort:       "Choose a port between 1 and 65535 with --port",
	mcperr.CodeInvalidConfig:     "Fix the servers file shown in details, then retry",
	mcperr.CodeConnection:        "Check that the hub is running: mcphub status",
	mcperr.CodeTimeout:           "Retry with a longer --call-timeout",
	mcperr.CodeProcessExit:       "Run with --log-level debug to see the hub output",
	mcperr.CodeStartFailed:       "Run with --log-level debug to see the hub output",
	mcperr.CodeInvalidParams:     "Run the command with --list-params to see accepted parameters",
	mcperr.CodeUnknownCapability: "List capabilities with: mcphub tools list <server>",
}

// FromError converts any error into a StructuredError
func FromError(err error) StructuredError {
	var se StructuredError
	if errors.As(err, &se) {
		return se
	}
	if e, ok := mcperr.As(err); ok {
		return StructuredError{
			Category: string(e.Category),
			Code:     string(e.Code),
			Message:  e.Message,
			Hint:     hints[e.Code],
			Details:  e.Details,
		}
	}
	return StructuredError{Code: CodeUsage, Message: err.Error()}
}
