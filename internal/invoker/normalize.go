package invoker

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub-go/internal/mcperr"
)

// ToolFailurePrefix marks the text of a result the server flagged as an error
const ToolFailurePrefix = "Tool execution failed:"

// Image is one binary image block of a result
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// Result is a tool or resource result flattened for display
type Result struct {
	Text    string  `json:"text"`
	Images  []Image `json:"images,omitempty"`
	IsError bool    `json:"isError,omitempty"`
}

type collector struct {
	parts  []string
	images []Image
}

func (c *collector) text(s string) {
	if s != "" {
		c.parts = append(c.parts, s)
	}
}

func (c *collector) image(data, mimeType string) {
	c.images = append(c.images, Image{Data: data, MimeType: mimeType})
}

func (c *collector) resource(res mcp.ResourceContents) {
	switch r := res.(type) {
	case mcp.TextResourceContents:
		c.text(r.Text)
	case *mcp.TextResourceContents:
		c.text(r.Text)
	case mcp.BlobResourceContents:
		c.blob(r.URI, r.MIMEType, r.Blob)
	case *mcp.BlobResourceContents:
		c.blob(r.URI, r.MIMEType, r.Blob)
	}
}

func (c *collector) blob(uri, mimeType, data string) {
	if strings.HasPrefix(mimeType, "image/") {
		c.image(data, mimeType)
		return
	}
	label := uri
	if mimeType != "" {
		label += " (" + mimeType + ")"
	}
	c.text("[binary content: " + label + "]")
}

func (c *collector) content(content mcp.Content) {
	switch v := content.(type) {
	case mcp.TextContent:
		c.text(v.Text)
	case *mcp.TextContent:
		c.text(v.Text)
	case mcp.ImageContent:
		c.image(v.Data, v.MIMEType)
	case *mcp.ImageContent:
		c.image(v.Data, v.MIMEType)
	case mcp.EmbeddedResource:
		c.resource(v.Resource)
	case *mcp.EmbeddedResource:
		c.resource(v.Resource)
	case mcp.ResourceLink:
		c.text(v.URI)
	case mcp.AudioContent:
		c.text("[audio content: " + v.MIMEType + "]")
	}
}

func (c *collector) result(isError bool) *Result {
	text := strings.Join(c.parts, "\n")
	if isError {
		if text == "" {
			text = ToolFailurePrefix
		} else {
			text = ToolFailurePrefix + " " + text
		}
	}
	return &Result{Text: text, Images: c.images, IsError: isError}
}

// NormalizeToolResult flattens a raw CallToolResult. A result the server
// flagged as an error is still returned as data, with its text prefixed.
func NormalizeToolResult(raw json.RawMessage) (*Result, error) {
	parsed, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeToolError, "unexpected tool result", err,
			map[string]any{"reason": "invalid_result"})
	}
	var c collector
	for _, content := range parsed.Content {
		c.content(content)
	}
	if len(c.parts) == 0 && len(c.images) == 0 && parsed.StructuredContent != nil {
		if data, err := json.Marshal(parsed.StructuredContent); err == nil {
			c.text(string(data))
		}
	}
	return c.result(parsed.IsError), nil
}

// NormalizeResourceResult flattens a raw ReadResourceResult
func NormalizeResourceResult(raw json.RawMessage) (*Result, error) {
	parsed, err := mcp.ParseReadResourceResult(&raw)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeToolError, "unexpected resource result", err,
			map[string]any{"reason": "invalid_result"})
	}
	var c collector
	for _, contents := range parsed.Contents {
		c.resource(contents)
	}
	return c.result(false), nil
}
