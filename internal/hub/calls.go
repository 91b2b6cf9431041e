package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/gateway"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/observability"
)

// CallOptions tunes one tool call or resource read
type CallOptions struct {
	// Timeout defaults to the configured call timeout (30s)
	Timeout time.Duration
}

// invocation is one capability request with its instrumentation
type invocation struct {
	server     string
	capability string
	kind       string
	req        gateway.Request
	span       oteltrace.Span
	started    time.Time
}

// CallTool invokes a tool and returns the raw MCP result
// ({content: [...], isError}). A tool disabled in the config file is refused.
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any, opts CallOptions) (json.RawMessage, error) {
	inv, err := c.toolInvocation(server, tool, args, opts)
	if err != nil {
		return nil, err
	}
	ctx = c.begin(ctx, inv)
	body, werr := c.gw.Send(ctx, inv.req).Wait(ctx)
	return c.finish(inv, body, werr)
}

// CallToolAsync is CallTool delivering its outcome to cb through the dispatcher
func (c *Client) CallToolAsync(ctx context.Context, server, tool string, args map[string]any, opts CallOptions, cb gateway.Callback) {
	inv, err := c.toolInvocation(server, tool, args, opts)
	if err != nil {
		gateway.Completed(nil, err, c.dispatcher).Then(cb)
		return
	}
	c.sendAsync(ctx, inv, cb)
}

// AccessResource reads a resource and returns the raw MCP result ({contents: [...]})
func (c *Client) AccessResource(ctx context.Context, server, uri string, opts CallOptions) (json.RawMessage, error) {
	inv, err := c.resourceInvocation(server, uri, opts)
	if err != nil {
		return nil, err
	}
	ctx = c.begin(ctx, inv)
	body, werr := c.gw.Send(ctx, inv.req).Wait(ctx)
	return c.finish(inv, body, werr)
}

// AccessResourceAsync is AccessResource delivering its outcome to cb through the dispatcher
func (c *Client) AccessResourceAsync(ctx context.Context, server, uri string, opts CallOptions, cb gateway.Callback) {
	inv, err := c.resourceInvocation(server, uri, opts)
	if err != nil {
		gateway.Completed(nil, err, c.dispatcher).Then(cb)
		return
	}
	c.sendAsync(ctx, inv, cb)
}

func (c *Client) toolInvocation(server, tool string, args map[string]any, opts CallOptions) (*invocation, *mcperr.Error) {
	if server == "" || tool == "" {
		return nil, mcperr.Runtime(mcperr.CodeInvalidParams, "server and tool names are required",
			map[string]any{"server": server, "tool": tool})
	}
	if rec, ok := c.store.Snapshot().FindServer(server); ok && rec.IsToolDisabled(tool) {
		return nil, mcperr.Runtime(mcperr.CodeInvalidState, "tool "+tool+" is disabled on server "+server,
			map[string]any{"server": server, "tool": tool})
	}
	if args == nil {
		args = map[string]any{}
	}
	return &invocation{
		server:     server,
		capability: tool,
		kind:       "tool",
		req: gateway.Request{
			Method:  http.MethodPost,
			Path:    "/servers/" + url.PathEscape(server) + "/tools",
			Route:   "/servers/{name}/tools",
			Body:    contracts.ToolCallRequest{Tool: tool, Arguments: args},
			Timeout: c.callTimeout(opts.Timeout),
		},
	}, nil
}

func (c *Client) resourceInvocation(server, uri string, opts CallOptions) (*invocation, *mcperr.Error) {
	if server == "" || uri == "" {
		return nil, mcperr.Runtime(mcperr.CodeInvalidParams, "server name and resource uri are required",
			map[string]any{"server": server, "uri": uri})
	}
	return &invocation{
		server:     server,
		capability: uri,
		kind:       "resource",
		req: gateway.Request{
			Method:  http.MethodPost,
			Path:    "/servers/" + url.PathEscape(server) + "/resources",
			Route:   "/servers/{name}/resources",
			Body:    contracts.ResourceRequest{URI: uri},
			Timeout: c.callTimeout(opts.Timeout),
		},
	}, nil
}

func (c *Client) begin(ctx context.Context, inv *invocation) context.Context {
	ctx, inv.span = c.obs.Tracing().TraceToolCall(ctx, inv.server, inv.capability, inv.kind)
	inv.started = time.Now()
	return ctx
}

func (c *Client) sendAsync(ctx context.Context, inv *invocation, cb gateway.Callback) {
	ctx = c.begin(ctx, inv)
	c.gw.Send(ctx, inv.req).Then(func(body json.RawMessage, err error) {
		result, ferr := c.finish(inv, body, err)
		if cb != nil {
			cb(result, ferr)
		}
	})
}

// finish unwraps {result} from the hub response and records the call
func (c *Client) finish(inv *invocation, body json.RawMessage, err error) (json.RawMessage, error) {
	var result json.RawMessage
	if err == nil && len(body) > 0 {
		var resp contracts.CallResponse
		if uerr := json.Unmarshal(body, &resp); uerr != nil {
			err = mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeAPIError, "unexpected response shape from hub", uerr,
				map[string]any{"reason": "invalid_response", "server": inv.server})
		} else {
			result = resp.Result
		}
	}
	c.obs.RecordToolCall(inv.server, inv.capability, time.Since(inv.started), err)
	observability.EndSpan(inv.span, 0, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}
