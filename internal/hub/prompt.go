package hub

import (
	"fmt"
	"strings"

	"mcphub-go/internal/contracts"
)

// NoServersPrompt is rendered when nothing is connected
const NoServersPrompt = "No MCP servers are connected."

// RenderPrompt summarises the capabilities of connected servers for a host
// that injects it into a model's system prompt. Input should already be
// displayed records, so disabled tools are absent.
func RenderPrompt(servers []contracts.ServerRecord) string {
	var b strings.Builder
	count := 0
	for _, rec := range servers {
		if rec.Status != contracts.StatusConnected {
			continue
		}
		if count == 0 {
			b.WriteString("Connected MCP servers:\n")
		}
		count++

		b.WriteString("\n## ")
		b.WriteString(rec.Name)
		b.WriteString("\n")
		if rec.Instructions != nil && !rec.Instructions.Disabled && strings.TrimSpace(rec.Instructions.Text) != "" {
			b.WriteString(strings.TrimSpace(rec.Instructions.Text))
			b.WriteString("\n")
		}

		caps := rec.Capabilities
		if len(caps.Tools) > 0 {
			b.WriteString("Tools:\n")
			for _, tool := range caps.Tools {
				writeItem(&b, tool.Name, tool.Description)
			}
		}
		if len(caps.Resources) > 0 {
			b.WriteString("Resources:\n")
			for _, res := range caps.Resources {
				desc := res.Description
				if desc == "" {
					desc = res.Name
				}
				writeItem(&b, res.URI, desc)
			}
		}
		if len(caps.ResourceTemplates) > 0 {
			b.WriteString("Resource templates:\n")
			for _, tmpl := range caps.ResourceTemplates {
				uri := ""
				if tmpl.URITemplate != nil && tmpl.URITemplate.Template != nil {
					uri = tmpl.URITemplate.Raw()
				}
				desc := tmpl.Description
				if desc == "" {
					desc = tmpl.Name
				}
				writeItem(&b, uri, desc)
			}
		}
	}
	if count == 0 {
		return NoServersPrompt
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeItem(b *strings.Builder, name, desc string) {
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		fmt.Fprintf(b, "- %s\n", name)
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", name, desc)
}
