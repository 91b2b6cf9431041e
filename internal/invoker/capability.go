package invoker

import (
	"github.com/mark3labs/mcp-go/mcp"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
)

// Kind discriminates the capability variants a server exposes
type Kind string

const (
	KindTool             Kind = "tool"
	KindResource         Kind = "resource"
	KindResourceTemplate Kind = "resource_template"
)

// Capability is one invocable item of a server. Exactly one of Tool,
// Resource or Template is set, matching Kind.
type Capability struct {
	Kind   Kind
	Server string

	Tool     *mcp.Tool
	Resource *mcp.Resource
	Template *mcp.ResourceTemplate
}

// Name is the tool name, resource URI or raw URI template
func (c Capability) Name() string {
	switch {
	case c.Tool != nil:
		return c.Tool.Name
	case c.Resource != nil:
		return c.Resource.URI
	case c.Template != nil:
		return templateRaw(c.Template)
	}
	return ""
}

// Description is the human-readable summary the server declared
func (c Capability) Description() string {
	switch {
	case c.Tool != nil:
		return c.Tool.Description
	case c.Resource != nil:
		return c.Resource.Description
	case c.Template != nil:
		return c.Template.Description
	}
	return ""
}

func templateRaw(t *mcp.ResourceTemplate) string {
	if t.URITemplate == nil || t.URITemplate.Template == nil {
		return ""
	}
	return t.URITemplate.Raw()
}

// Resolve finds a capability on a server record. Tools disabled in the
// config file are refused with RUNTIME.INVALID_STATE; anything the server
// does not expose while connected is RUNTIME.UNKNOWN_CAPABILITY.
func Resolve(rec contracts.ServerRecord, kind Kind, name string) (Capability, error) {
	details := map[string]any{"server": rec.Name, "kind": string(kind), "name": name}
	if kind == KindTool && rec.IsToolDisabled(name) {
		return Capability{}, mcperr.Runtime(mcperr.CodeInvalidState,
			"tool "+name+" is disabled on server "+rec.Name, details)
	}

	shown := rec.Displayed()
	caps := shown.Capabilities
	switch kind {
	case KindTool:
		for i := range caps.Tools {
			if caps.Tools[i].Name == name {
				return Capability{Kind: kind, Server: rec.Name, Tool: &caps.Tools[i]}, nil
			}
		}
	case KindResource:
		for i := range caps.Resources {
			if caps.Resources[i].URI == name {
				return Capability{Kind: kind, Server: rec.Name, Resource: &caps.Resources[i]}, nil
			}
		}
	case KindResourceTemplate:
		for i := range caps.ResourceTemplates {
			tmpl := &caps.ResourceTemplates[i]
			if templateRaw(tmpl) == name || tmpl.Name == name {
				return Capability{Kind: kind, Server: rec.Name, Template: tmpl}, nil
			}
		}
	}
	return Capability{}, mcperr.Runtime(mcperr.CodeUnknownCapability,
		"server "+rec.Name+" has no "+string(kind)+" "+name, details)
}

// List returns every invocable capability of a server in display order
func List(rec contracts.ServerRecord) []Capability {
	caps := rec.Displayed().Capabilities
	out := make([]Capability, 0, len(caps.Tools)+len(caps.Resources)+len(caps.ResourceTemplates))
	for i := range caps.Tools {
		out = append(out, Capability{Kind: KindTool, Server: rec.Name, Tool: &caps.Tools[i]})
	}
	for i := range caps.Resources {
		out = append(out, Capability{Kind: KindResource, Server: rec.Name, Resource: &caps.Resources[i]})
	}
	for i := range caps.ResourceTemplates {
		out = append(out, Capability{Kind: KindResourceTemplate, Server: rec.Name, Template: &caps.ResourceTemplates[i]})
	}
	return out
}
