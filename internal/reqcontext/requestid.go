// Package reqcontext carries per-request identifiers through context.Context
// so outgoing hub requests, log lines and spans can be correlated.
package reqcontext

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header sent with every hub request
	RequestIDHeader = "X-Request-Id"

	// MaxRequestIDLength is the maximum allowed length for a request ID
	MaxRequestIDLength = 256
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sourceKey    contextKey = "request_source"
)

// Source indicates which part of the client issued a request
type Source string

const (
	SourceCLI      Source = "cli"
	SourceInvoker  Source = "invoker"
	SourceInternal Source = "internal"
	SourceUnknown  Source = "unknown"
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID reports whether id contains only alphanumerics, dashes and underscores
// and is between 1 and 256 characters long.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	return requestIDPattern.MatchString(id)
}

// GenerateRequestID generates a new UUID v4 request ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID stores id in ctx. Invalid ids are replaced by a generated one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !IsValidRequestID(id) {
		id = GenerateRequestID()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored in ctx, or ""
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Ensure returns ctx with a request id, generating one if none is set, and the id itself
func Ensure(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := GenerateRequestID()
	return context.WithValue(ctx, requestIDKey, id), id
}

// WithSource records which component issued the request
func WithSource(ctx context.Context, source Source) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// SourceFrom retrieves the request source from ctx
func SourceFrom(ctx context.Context) Source {
	if ctx == nil {
		return SourceUnknown
	}
	if s, ok := ctx.Value(sourceKey).(Source); ok {
		return s
	}
	return SourceUnknown
}
