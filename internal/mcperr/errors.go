// Package mcperr defines the typed error taxonomy shared by every hub client component.
//
// An Error carries a category, a code from the category's closed set, a human message,
// structured details and the time it was raised. Errors are immutable once built.
package mcperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Category groups errors by the phase of the client lifecycle that produced them.
type Category string

const (
	// CategorySetup covers failures before a connection is attempted (config, binary, version).
	CategorySetup Category = "SETUP"
	// CategoryServer covers failures talking to the hub once it is expected to be up.
	CategoryServer Category = "SERVER"
	// CategoryRuntime covers invalid use of the client by the host.
	CategoryRuntime Category = "RUNTIME"
	// CategoryMarketplace covers catalog and detail fetch failures.
	CategoryMarketplace Category = "MARKETPLACE"
)

// Categories lists every category in display order.
var Categories = []Category{CategorySetup, CategoryServer, CategoryRuntime, CategoryMarketplace}

// Code identifies an error within its category.
type Code string

// SETUP codes
const (
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeMissingDependency Code = "MISSING_DEPENDENCY"
	CodeVersionMismatch   Code = "VERSION_MISMATCH"
	CodeInvalidPort       Code = "INVALID_PORT"
	CodeSetupFailed       Code = "SETUP_FAILED"
)

// SERVER codes
const (
	CodeConnection   Code = "CONNECTION"
	CodeTimeout      Code = "TIMEOUT"
	CodeAPIError     Code = "API_ERROR"
	CodeHealthCheck  Code = "HEALTH_CHECK"
	CodeInvalidState Code = "INVALID_STATE"
	CodeProcessExit  Code = "PROCESS_EXIT"
	CodeStartFailed  Code = "START_FAILED"
	CodeServerStart  Code = "SERVER_START"
	CodeServerStop   Code = "SERVER_STOP"
)

// RUNTIME codes (INVALID_STATE is shared with SERVER)
const (
	CodeInvalidParams     Code = "INVALID_PARAMS"
	CodeInProgress        Code = "IN_PROGRESS"
	CodeUnknownCapability Code = "UNKNOWN_CAPABILITY"
	CodeConfigUpdate      Code = "CONFIG_UPDATE"
	CodeToolError         Code = "TOOL_ERROR"
)

// MARKETPLACE codes
const (
	CodeFetchError   Code = "FETCH_ERROR"
	CodeDetailsError Code = "DETAILS_ERROR"
	CodeCacheError   Code = "CACHE_ERROR"
)

var codesByCategory = map[Category][]Code{
	CategorySetup: {
		CodeInvalidConfig, CodeMissingDependency, CodeVersionMismatch, CodeInvalidPort, CodeSetupFailed,
	},
	CategoryServer: {
		CodeConnection, CodeTimeout, CodeAPIError, CodeHealthCheck, CodeInvalidState,
		CodeProcessExit, CodeStartFailed, CodeServerStart, CodeServerStop,
	},
	CategoryRuntime: {
		CodeInvalidState, CodeInvalidParams, CodeInProgress, CodeUnknownCapability, CodeConfigUpdate, CodeToolError,
	},
	CategoryMarketplace: {
		CodeFetchError, CodeDetailsError, CodeCacheError,
	},
}

// ValidCode reports whether code belongs to the closed set of category.
func ValidCode(category Category, code Code) bool {
	for _, c := range codesByCategory[category] {
		if c == code {
			return true
		}
	}
	return false
}

// Error is the structured error value produced at every component boundary.
type Error struct {
	Category  Category
	Code      Code
	Message   string
	Details   map[string]any
	Timestamp time.Time

	cause error
}

// New constructs an Error. Details are copied so later mutation by the caller has no effect.
// A code outside the category's closed set is kept but recorded in the details.
func New(category Category, code Code, message string, details map[string]any) *Error {
	e := &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Details:   copyDetails(details),
		Timestamp: time.Now(),
	}
	if !ValidCode(category, code) {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["unknown_code"] = true
	}
	return e
}

// Wrap constructs an Error that keeps cause reachable through errors.Unwrap.
func Wrap(category Category, code Code, message string, cause error, details map[string]any) *Error {
	e := New(category, code, message, details)
	e.cause = cause
	if cause != nil {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		if _, ok := e.Details["cause"]; !ok {
			e.Details["cause"] = cause.Error()
		}
	}
	return e
}

// Setup builds a SETUP error.
func Setup(code Code, message string, details map[string]any) *Error {
	return New(CategorySetup, code, message, details)
}

// Server builds a SERVER error.
func Server(code Code, message string, details map[string]any) *Error {
	return New(CategoryServer, code, message, details)
}

// Runtime builds a RUNTIME error.
func Runtime(code Code, message string, details map[string]any) *Error {
	return New(CategoryRuntime, code, message, details)
}

// Marketplace builds a MARKETPLACE error.
func Marketplace(code Code, message string, details map[string]any) *Error {
	return New(CategoryMarketplace, code, message, details)
}

// Error renders the single-line display form: [CATEGORY.CODE] message.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s.%s] %s", e.Category, e.Code, e.Message)
}

// Verbose renders the display form followed by an indented dump of the details.
func (e *Error) Verbose() string {
	if len(e.Details) == 0 {
		return e.Error()
	}

	var b strings.Builder
	b.WriteString(e.Error())

	out, err := yaml.Marshal(e.Details)
	if err != nil {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s: %v", k, e.Details[k])
		}
		return b.String()
	}

	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		b.WriteString("\n  ")
		b.WriteString(line)
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same category and code, so sentinel-style checks
// such as errors.Is(err, mcperr.Server(mcperr.CodeTimeout, "", nil)) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// Detail returns a single detail value.
func (e *Error) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// WithDetail returns a copy of e with key set. The receiver is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	c := *e
	c.Details = copyDetails(e.Details)
	if c.Details == nil {
		c.Details = map[string]any{}
	}
	c.Details[key] = value
	return &c
}

// Matches reports whether err is an *Error of the given category and code.
func Matches(err error, category Category, code Code) bool {
	e, ok := As(err)
	return ok && e.Category == category && e.Code == code
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// From converts any error into an *Error. Errors that already are (or wrap) an *Error
// are returned unchanged; anything else is wrapped with the given category and code.
func From(err error, category Category, code Code) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(category, code, err.Error(), err, nil)
}

func copyDetails(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
