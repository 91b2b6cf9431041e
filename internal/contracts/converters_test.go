package contracts

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogRecord_Ready(t *testing.T) {
	record := ParseLogRecord(`{"type":"info","message":"MCP_HUB_STARTED","data":{"status":"ready","port":37373}}`)

	assert.Equal(t, "info", record.Type)
	assert.True(t, record.IsReady())
	assert.False(t, record.IsError())
	assert.Equal(t, float64(37373), record.Data["port"])
}

func TestParseLogRecord_NotReady(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"wrong status", `{"type":"info","message":"MCP_HUB_STARTED","data":{"status":"starting"}}`},
		{"wrong type", `{"type":"debug","message":"MCP_HUB_STARTED","data":{"status":"ready"}}`},
		{"no data", `{"type":"info","message":"MCP_HUB_STARTED"}`},
		{"plain text", `MCP_HUB_STARTED ready`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, ParseLogRecord(tt.line).IsReady())
		})
	}
}

func TestParseLogRecord_ErrorAndPlainText(t *testing.T) {
	record := ParseLogRecord(`{"type":"ERROR","code":"SERVER_START","message":"github failed"}`)
	assert.True(t, record.IsError())
	assert.Equal(t, "SERVER_START", record.Code)

	plain := ParseLogRecord("  npm WARN deprecated  ")
	assert.Equal(t, "info", plain.Type)
	assert.Equal(t, "npm WARN deprecated", plain.Message)
}

func TestServerRecord_DisplayedRequiresConnected(t *testing.T) {
	record := ServerRecord{
		Name:   "weather",
		Status: StatusDisconnected,
		Capabilities: Capabilities{
			Tools:     []mcp.Tool{{Name: "get_forecast"}},
			Resources: []mcp.Resource{{URI: "weather://today"}},
		},
	}

	displayed := record.Displayed()
	assert.Empty(t, displayed.Capabilities.Tools)
	assert.Empty(t, displayed.Capabilities.Resources)
	assert.Len(t, record.Capabilities.Tools, 1, "original record must be untouched")
}

func TestServerRecord_DisplayedFiltersDisabledTools(t *testing.T) {
	record := ServerRecord{
		Name:          "weather",
		Status:        StatusConnected,
		DisabledTools: []string{"get_forecast"},
		Capabilities: Capabilities{
			Tools: []mcp.Tool{{Name: "get_forecast"}, {Name: "get_alerts"}},
		},
	}

	displayed := record.Displayed()
	require.Len(t, displayed.Capabilities.Tools, 1)
	assert.Equal(t, "get_alerts", displayed.Capabilities.Tools[0].Name)

	_, ok := record.FindTool("get_forecast")
	assert.True(t, ok, "FindTool ignores the overlay")
}

func TestHealthResponse_IsHub(t *testing.T) {
	var health HealthResponse
	require.NoError(t, json.Unmarshal([]byte(`{"status":"ok","server_id":"mcp-hub","activeClients":2,"servers":[]}`), &health))
	assert.True(t, health.IsHub())

	health.ServerID = "something-else"
	assert.False(t, health.IsHub())

	var nilHealth *HealthResponse
	assert.False(t, nilHealth.IsHub())
}
