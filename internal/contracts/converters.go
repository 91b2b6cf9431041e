package contracts

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// HubReadyMessage is the message of the log record the hub prints once it accepts requests
const HubReadyMessage = "MCP_HUB_STARTED"

// ParseLogRecord converts one line of hub output into a LogRecord.
// Lines that are not JSON objects become info records carrying the raw text.
func ParseLogRecord(line string) LogRecord {
	line = strings.TrimSpace(line)

	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(line), &generic); err != nil || generic == nil {
		return LogRecord{Type: "info", Message: line, Timestamp: time.Now()}
	}

	record := LogRecord{
		Type:      strings.ToLower(getString(generic, "type")),
		Code:      getString(generic, "code"),
		Message:   getString(generic, "message"),
		Timestamp: time.Now(),
	}
	if record.Type == "" {
		record.Type = "info"
	}
	if data, ok := generic["data"].(map[string]interface{}); ok {
		record.Data = data
	}
	if ts := getString(generic, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			record.Timestamp = parsed
		}
	}
	return record
}

// IsReady reports whether the record is the hub's ready signal
func (r LogRecord) IsReady() bool {
	if r.Type != "info" || r.Message != HubReadyMessage {
		return false
	}
	return getString(r.Data, "status") == "ready"
}

// IsError reports whether the record has error severity
func (r LogRecord) IsError() bool {
	return r.Type == "error"
}

// Clone returns a deep copy of the record's slices so it can be mutated independently
func (s ServerRecord) Clone() ServerRecord {
	out := s
	out.Capabilities = Capabilities{
		Tools:             slices.Clone(s.Capabilities.Tools),
		Resources:         slices.Clone(s.Capabilities.Resources),
		ResourceTemplates: slices.Clone(s.Capabilities.ResourceTemplates),
		Prompts:           slices.Clone(s.Capabilities.Prompts),
	}
	out.DisabledTools = slices.Clone(s.DisabledTools)
	if s.Instructions != nil {
		instr := *s.Instructions
		out.Instructions = &instr
	}
	return out
}

// IsToolDisabled reports whether the config overlay disables the named tool
func (s ServerRecord) IsToolDisabled(tool string) bool {
	return slices.Contains(s.DisabledTools, tool)
}

// Displayed returns the record as consumers should see it: capabilities are empty
// unless the server is connected, and tools disabled by the overlay are filtered out.
func (s ServerRecord) Displayed() ServerRecord {
	out := s.Clone()
	if s.Status != StatusConnected {
		out.Capabilities = Capabilities{}
		return out
	}
	if len(s.DisabledTools) == 0 {
		return out
	}
	tools := make([]mcp.Tool, 0, len(out.Capabilities.Tools))
	for _, tool := range out.Capabilities.Tools {
		if !s.IsToolDisabled(tool.Name) {
			tools = append(tools, tool)
		}
	}
	out.Capabilities.Tools = tools
	return out
}

// FindTool looks a tool up by name, ignoring the overlay
func (s ServerRecord) FindTool(name string) (mcp.Tool, bool) {
	for _, tool := range s.Capabilities.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return mcp.Tool{}, false
}

// FindResource looks a resource up by URI
func (s ServerRecord) FindResource(uri string) (mcp.Resource, bool) {
	for _, res := range s.Capabilities.Resources {
		if res.URI == uri {
			return res, true
		}
	}
	return mcp.Resource{}, false
}

// FindServer returns the record with the given name
func FindServer(servers []ServerRecord, name string) (ServerRecord, bool) {
	for _, s := range servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerRecord{}, false
}

// getString safely extracts a string from a generic map
func getString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
