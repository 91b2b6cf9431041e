// Package gateway issues single HTTP requests against the hub API and turns
// every failure into an *mcperr.Error. Requests complete through a Future that
// callers either wait on or attach a callback to.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/observability"
	"mcphub-go/internal/reqcontext"
	"mcphub-go/internal/store"
)

const (
	// DefaultTimeout applies to control-plane requests
	DefaultTimeout = time.Second
	// CallTimeout applies to tool calls and resource reads
	CallTimeout = 30 * time.Second

	// HealthPath is the only path served before the client is connected
	HealthPath = "/health"

	userAgent = "mcphub-go"
)

// Request describes one hub API call
type Request struct {
	Method string
	Path   string // relative to the API root, e.g. /servers/weather/info
	Route  string // path template used for metrics; defaults to Path
	Query  url.Values
	Body   any

	Timeout time.Duration

	// SkipReadyCheck is only honoured for HealthPath
	SkipReadyCheck bool

	// Category selects the error feed the failure is pushed to. Defaults to SERVER.
	Category mcperr.Category
	// FailureCode overrides the classified code for MARKETPLACE requests (FETCH_ERROR by default)
	FailureCode mcperr.Code
	// SkipErrorFeed keeps the failure out of the store's error feed. Pings and
	// advisory calls whose failures are expected or reported differently set it.
	SkipErrorFeed bool
}

func (r Request) route() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Path
}

// Options configures a Gateway
type Options struct {
	BaseURL       string // e.g. http://127.0.0.1:37373/api
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Store         *store.Store // classified failures are appended to its error feed
	Observability *observability.Manager
	Dispatcher    Dispatcher
	// IsReady reports whether the client is connected. Nil means always ready.
	IsReady func() bool
}

// Gateway sends requests to one hub
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	store      *store.Store
	obs        *observability.Manager
	dispatcher Dispatcher
	isReady    func() bool
}

// New creates a gateway
func New(opts Options) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		store:      opts.Store,
		obs:        opts.Observability,
		dispatcher: opts.Dispatcher,
		isReady:    opts.IsReady,
	}
	if g.httpClient == nil {
		// per-request timeouts come from the request context
		g.httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.dispatcher == nil {
		g.dispatcher = GoDispatcher
	}
	return g
}

// BaseURL returns the API root
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// Send dispatches req and returns immediately. The request runs with its own
// timeout, detached from ctx cancellation; ctx only contributes values such as the request id.
func (g *Gateway) Send(ctx context.Context, req Request) *Future {
	f := newFuture(g.dispatcher)

	if err := g.checkReady(req); err != nil {
		f.complete(nil, 0, err)
		return f
	}

	go g.do(context.WithoutCancel(ctx), req, f)
	return f
}

// Call sends req, waits, and decodes the body into out (which may be nil)
func (g *Gateway) Call(ctx context.Context, req Request, out any) error {
	return g.Send(ctx, req).Decode(ctx, out)
}

// Go sends req and delivers the outcome to cb exactly once through the dispatcher
func (g *Gateway) Go(ctx context.Context, req Request, cb Callback) {
	g.Send(ctx, req).Then(cb)
}

func (g *Gateway) checkReady(req Request) *mcperr.Error {
	if req.Path == HealthPath || g.isReady == nil || g.isReady() {
		return nil
	}
	if req.SkipReadyCheck {
		g.logger.Debug("SkipReadyCheck ignored for non-health path", zap.String("path", req.Path))
	}
	return mcperr.Server(mcperr.CodeInvalidState, "hub is not connected", map[string]any{
		"method": req.Method,
		"path":   req.Path,
	})
}

func (g *Gateway) do(ctx context.Context, req Request, f *Future) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, requestID := reqcontext.Ensure(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := g.obs.Tracing().TraceHubRequest(ctx, req.Method, req.route(), requestID)
	start := time.Now()

	body, status, cerr := g.roundTrip(ctx, req, requestID, timeout)
	elapsed := time.Since(start)

	g.obs.RecordHubRequest(req.Method, req.route(), elapsed, errOrNil(cerr))
	observability.EndSpan(span, status, errOrNil(cerr))

	if cerr != nil {
		g.logger.Debug("Hub request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", requestID),
			zap.Duration("elapsed", elapsed),
			zap.String("error", cerr.Error()))
		if !req.SkipErrorFeed {
			g.record(cerr)
		}
	} else {
		g.logger.Debug("Hub request completed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	}
	f.complete(body, status, cerr)
}

func (g *Gateway) roundTrip(ctx context.Context, req Request, requestID string, timeout time.Duration) (json.RawMessage, int, *mcperr.Error) {
	base := map[string]any{
		"method":     req.Method,
		"path":       req.Path,
		"request_id": requestID,
	}

	var payload io.Reader = http.NoBody
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, 0, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeInvalidParams, "request body is not serialisable", err, base)
		}
		payload = bytes.NewReader(data)
	}

	target := g.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, payload)
	if err != nil {
		return nil, 0, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeInvalidParams, "invalid hub request", err, base)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(reqcontext.RequestIDHeader, requestID)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	g.obs.Tracing().InjectHeaders(ctx, httpReq.Header)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransport(req, err, timeout, base)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransport(req, err, timeout, base)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, classifyStatus(req, resp.StatusCode, data, base)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, resp.StatusCode, nil
	}
	if !json.Valid(trimmed) {
		details := withDetails(base, map[string]any{
			"status": resp.StatusCode,
			"reason": "invalid_response",
			"body":   truncate(string(trimmed), 512),
		})
		return nil, resp.StatusCode, newFailure(req, mcperr.CodeAPIError,
			fmt.Sprintf("invalid response from hub for %s %s", req.Method, req.Path), nil, details)
	}
	return json.RawMessage(trimmed), resp.StatusCode, nil
}

func (g *Gateway) record(err *mcperr.Error) {
	// malformed requests are the caller's problem, not the hub's
	if err.Category == mcperr.CategoryRuntime {
		return
	}
	g.obs.RecordError(string(err.Category), string(err.Code))
	if g.store != nil {
		g.store.AddError(err)
	}
}

func errOrNil(err *mcperr.Error) error {
	if err == nil {
		return nil
	}
	return err
}
