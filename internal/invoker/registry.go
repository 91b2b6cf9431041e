package invoker

import (
	"context"
	"encoding/json"

	"github.com/yosida95/uritemplate/v3"

	"mcphub-go/internal/hub"
	"mcphub-go/internal/mcperr"
)

// Caller executes tool calls and resource reads against the hub.
// *hub.Client implements it.
type Caller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any, opts hub.CallOptions) (json.RawMessage, error)
	AccessResource(ctx context.Context, server, uri string, opts hub.CallOptions) (json.RawMessage, error)
}

// Call is a converted invocation ready for dispatch
type Call struct {
	Server    string
	Name      string
	Arguments map[string]any
	URI       string
}

// Handler implements one capability kind
type Handler interface {
	Params(c Capability) []Param
	Validate(c Capability, values map[string]string) error
	Convert(c Capability, values map[string]string) (Call, error)
	Dispatch(ctx context.Context, caller Caller, call Call, opts hub.CallOptions) (json.RawMessage, error)
	Normalize(raw json.RawMessage) (*Result, error)
}

// Registry maps capability kinds to their handlers
type Registry struct {
	handlers map[Kind]Handler
}

// NewRegistry returns a registry holding the tool, resource and resource
// template handlers
func NewRegistry() *Registry {
	return &Registry{handlers: map[Kind]Handler{
		KindTool:             toolHandler{},
		KindResource:         resourceHandler{},
		KindResourceTemplate: templateHandler{},
	}}
}

// Register installs or replaces the handler for a kind
func (r *Registry) Register(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Handler returns the handler for a kind
func (r *Registry) Handler(kind Kind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, mcperr.Runtime(mcperr.CodeUnknownCapability, "no handler for capability kind "+string(kind),
			map[string]any{"kind": string(kind)})
	}
	return h, nil
}

type toolHandler struct{}

func (toolHandler) Params(c Capability) []Param {
	if c.Tool == nil {
		return nil
	}
	return toolParams(*c.Tool)
}

func (h toolHandler) Validate(c Capability, values map[string]string) error {
	return validateParams(h.Params(c), values)
}

func (h toolHandler) Convert(c Capability, values map[string]string) (Call, error) {
	args, err := convertParams(h.Params(c), values)
	if err != nil {
		return Call{}, err
	}
	return Call{Server: c.Server, Name: c.Name(), Arguments: args}, nil
}

func (toolHandler) Dispatch(ctx context.Context, caller Caller, call Call, opts hub.CallOptions) (json.RawMessage, error) {
	return caller.CallTool(ctx, call.Server, call.Name, call.Arguments, opts)
}

func (toolHandler) Normalize(raw json.RawMessage) (*Result, error) {
	return NormalizeToolResult(raw)
}

type resourceHandler struct{}

func (resourceHandler) Params(Capability) []Param { return nil }

func (resourceHandler) Validate(Capability, map[string]string) error { return nil }

func (resourceHandler) Convert(c Capability, _ map[string]string) (Call, error) {
	return Call{Server: c.Server, Name: c.Name(), URI: c.Name()}, nil
}

func (resourceHandler) Dispatch(ctx context.Context, caller Caller, call Call, opts hub.CallOptions) (json.RawMessage, error) {
	return caller.AccessResource(ctx, call.Server, call.URI, opts)
}

func (resourceHandler) Normalize(raw json.RawMessage) (*Result, error) {
	return NormalizeResourceResult(raw)
}

// templateHandler expands a resource template into a concrete URI and reads it
type templateHandler struct {
	resourceHandler
}

func (templateHandler) Params(c Capability) []Param {
	if c.Template == nil || c.Template.URITemplate == nil || c.Template.URITemplate.Template == nil {
		return nil
	}
	return templateParams(c.Template.URITemplate.Varnames())
}

func (h templateHandler) Validate(c Capability, values map[string]string) error {
	return validateParams(h.Params(c), values)
}

func (h templateHandler) Convert(c Capability, values map[string]string) (Call, error) {
	if c.Template == nil || c.Template.URITemplate == nil || c.Template.URITemplate.Template == nil {
		return Call{}, mcperr.Runtime(mcperr.CodeInvalidParams, "resource template has no URI template",
			map[string]any{"server": c.Server})
	}
	vals := uritemplate.Values{}
	for _, p := range h.Params(c) {
		vals.Set(p.Name, uritemplate.String(values[p.Name]))
	}
	uri, err := c.Template.URITemplate.Expand(vals)
	if err != nil {
		return Call{}, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeInvalidParams, "expanding resource template", err,
			map[string]any{"server": c.Server, "template": c.Name()})
	}
	return Call{Server: c.Server, Name: c.Name(), URI: uri}, nil
}
