package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
)

// classifyTransport maps a failed round trip to TIMEOUT or CONNECTION
func classifyTransport(req Request, err error, timeout time.Duration, base map[string]any) *mcperr.Error {
	details := withDetails(base, map[string]any{"timeout_ms": timeout.Milliseconds()})

	if isTimeout(err) {
		details["reason"] = "timeout"
		return newFailure(req, mcperr.CodeTimeout,
			fmt.Sprintf("hub request %s %s timed out after %s", req.Method, req.Path, timeout), err, details)
	}

	details["reason"] = "connection"
	return newFailure(req, mcperr.CodeConnection,
		fmt.Sprintf("failed to reach hub for %s %s", req.Method, req.Path), err, details)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyStatus maps a non-2xx response to API_ERROR, decoding the hub's structured body when possible
func classifyStatus(req Request, status int, body []byte, base map[string]any) *mcperr.Error {
	details := withDetails(base, map[string]any{"status": status})

	var apiErr contracts.APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		details["reason"] = "api_error"
		if apiErr.Code != "" {
			details["code"] = apiErr.Code
		}
		if apiErr.Data != nil {
			details["data"] = apiErr.Data
		}
		return newFailure(req, mcperr.CodeAPIError, apiErr.Error, nil, details)
	}

	details["reason"] = "http_status"
	details["body"] = truncate(string(body), 512)
	return newFailure(req, mcperr.CodeAPIError,
		fmt.Sprintf("hub returned %d %s for %s %s", status, http.StatusText(status), req.Method, req.Path), nil, details)
}

// newFailure builds the error in the request's category. MARKETPLACE requests
// collapse every failure kind into one code and keep the kind in details.
func newFailure(req Request, code mcperr.Code, message string, cause error, details map[string]any) *mcperr.Error {
	category := req.Category
	if category == "" {
		category = mcperr.CategoryServer
	}
	if category == mcperr.CategoryMarketplace {
		details["kind"] = string(code)
		code = req.FailureCode
		if code == "" {
			code = mcperr.CodeFetchError
		}
	}
	if cause != nil {
		return mcperr.Wrap(category, code, message, cause, details)
	}
	return mcperr.New(category, code, message, details)
}

func withDetails(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
